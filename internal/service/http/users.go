package httpsvc

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/user"
)

type signUpRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FullName        string `json:"full_name,omitempty"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type signInRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type userRequest struct {
	Username *string  `json:"username,omitempty"`
	Email    *string  `json:"email,omitempty"`
	FullName *string  `json:"full_name,omitempty"`
	Password *string  `json:"password,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

func (r userRequest) toService() user.ProfileInput {
	return user.ProfileInput{
		Username: r.Username,
		Email:    r.Email,
		FullName: r.FullName,
		Password: r.Password,
		Roles:    r.Roles,
	}
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      domain.User `json:"user"`
}

type userListResponse struct {
	Users []domain.User `json:"users"`
}

type userHandler struct {
	svc    *user.Service
	orders *order.Service
	logger *log.Entry
}

func (h *userHandler) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	session, err := h.svc.SignUp(r.Context(), user.SignUpInput{
		Username:        req.Username,
		Email:           req.Email,
		FullName:        req.FullName,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

func (h *userHandler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	session, err := h.svc.SignIn(r.Context(), user.SignInInput{Login: req.Login, Password: req.Password})
	if errors.Is(err, user.ErrInvalidCredentials) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="shop"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (h *userHandler) me(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, subjectOf(r))
}

func (h *userHandler) get(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, chi.URLParam(r, "id"))
}

func (h *userHandler) respondUser(w http.ResponseWriter, r *http.Request, id string) {
	found, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *userHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	users, err := h.svc.ListUsers(r.Context(), limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, userListResponse{Users: users})
}

func (h *userHandler) updateMe(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	updated, err := h.svc.UpdateProfile(r.Context(), subjectOf(r), req.toService())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *userHandler) update(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	updated, err := h.svc.UpdateUser(r.Context(), chi.URLParam(r, "id"), req.toService())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *userHandler) deleteMe(w http.ResponseWriter, r *http.Request) {
	h.respondDelete(w, r, subjectOf(r))
}

func (h *userHandler) delete(w http.ResponseWriter, r *http.Request) {
	h.respondDelete(w, r, chi.URLParam(r, "id"))
}

func (h *userHandler) respondDelete(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := h.svc.DeleteUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// myOrders — заказы, оформленные на текущего пользователя (customer_id = sub токена).
func (h *userHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), subjectOf(r), limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: orders})
}

func subjectOf(r *http.Request) string {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Subject
}

// restrictedSubject возвращает sub токена, если запрос идёт от покупателя без роли admin.
// Без аутентификации ограничений нет.
func restrictedSubject(r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.HasRole(auth.RoleAdmin) {
		return "", false
	}
	return claims.Subject, true
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, "forbidden", message)
}
