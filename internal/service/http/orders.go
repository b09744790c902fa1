package httpsvc

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
)

type orderHandler struct {
	svc    *order.Service
	logger *log.Entry
}

func (h *orderHandler) create(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !h.claimCustomer(w, r, &req) {
		return
	}

	created, err := h.svc.CreateOrder(r.Context(), req.toService())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	found, ok := h.owned(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *orderHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	customerID := r.URL.Query().Get("customer_id")
	if subject, restricted := restrictedSubject(r); restricted {
		if customerID != "" && customerID != subject {
			writeForbidden(w, "orders of another customer are not visible")
			return
		}
		customerID = subject
	}

	orders, err := h.svc.ListOrders(r.Context(), customerID, limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: orders})
}

func (h *orderHandler) update(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	id := chi.URLParam(r, "id")
	if !h.claimCustomer(w, r, &req) {
		return
	}
	if _, ok := h.owned(w, r, id); !ok {
		return
	}

	updated, err := h.svc.UpdateOrder(r.Context(), id, req.toService())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *orderHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.owned(w, r, id); !ok {
		return
	}

	result, err := h.svc.DeleteOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteOrderResponse{Message: result.Message, Order: result.Order})
}

// claimCustomer привязывает заказ покупателя к sub токена: пустой customer_id
// заполняется, чужой отклоняется с 403. Администратор оформляет заказы на кого угодно.
func (h *orderHandler) claimCustomer(w http.ResponseWriter, r *http.Request, req *orderRequest) bool {
	subject, restricted := restrictedSubject(r)
	if !restricted {
		return true
	}
	if req.CustomerID == "" {
		req.CustomerID = subject
	}
	if req.CustomerID != subject {
		writeForbidden(w, "order must be placed for the authenticated customer")
		return false
	}
	return true
}

// owned загружает заказ и проверяет, что покупатель обращается к своему.
func (h *orderHandler) owned(w http.ResponseWriter, r *http.Request, id string) (domain.Order, bool) {
	found, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return domain.Order{}, false
	}
	if subject, restricted := restrictedSubject(r); restricted && found.CustomerID != subject {
		writeForbidden(w, "order belongs to another customer")
		return domain.Order{}, false
	}
	return found, true
}

// limitParam читает необязательный ?limit=; ноль означает значение по умолчанию.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, domain.NewError(domain.KindInvalidRequest, "http.limit", "limit must be a non-negative integer")
	}
	return limit, nil
}
