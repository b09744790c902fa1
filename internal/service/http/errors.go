package httpsvc

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// retryAfterSeconds подсказывает клиенту паузу перед повтором временной ошибки.
const retryAfterSeconds = "1"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor сопоставляет вид доменной ошибки HTTP-статусу.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindNoLines, domain.KindBadPrice:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindOutOfStock, domain.KindConflict:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	case domain.KindNotificationDelivery, domain.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError отвечает клиенту по виду ошибки; неизвестные ошибки не раскрываются.
func writeDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("kind", kind.String()).Warn("request failed")
	}
	if kind == domain.KindTransient {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if kind == domain.KindUnknown || kind == domain.KindNotificationDelivery {
		message = "internal error"
	}
	writeError(w, status, kind.String(), message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON читает тело запроса с ограничением размера.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.WrapError(domain.KindInvalidRequest, "http.decode", err, "malformed request body")
	}
	return nil
}
