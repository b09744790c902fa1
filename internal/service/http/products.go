package httpsvc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/product"
)

type productHandler struct {
	svc    *product.Service
	logger *log.Entry
}

func (h *productHandler) create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	created, err := h.svc.CreateProduct(r.Context(), req.toService())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (h *productHandler) get(w http.ResponseWriter, r *http.Request) {
	found, err := h.svc.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *productHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	products, err := h.svc.ListProducts(r.Context(), limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, productListResponse{Products: products})
}

func (h *productHandler) update(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	updated, err := h.svc.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req.toService())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *productHandler) delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.DeleteProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}
