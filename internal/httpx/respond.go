package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/render"
)

// errorBody is what the browser client reads; it shows message verbatim.
type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

func writeMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, r, code, errorBody{Message: msg})
}

// writeError maps the error taxonomy to a status code. Storage and upstream
// details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, orders.ErrValidation):
		writeMessage(w, r, http.StatusBadRequest, clientMessage(err))
	case errors.Is(err, orders.ErrInvalidAmount):
		writeMessage(w, r, http.StatusBadRequest, "Invalid amount")
	case errors.Is(err, orders.ErrSignatureVerification):
		writeMessage(w, r, http.StatusBadRequest, "Webhook Error: "+clientMessage(err))
	case errors.Is(err, orders.ErrAuth):
		writeMessage(w, r, http.StatusUnauthorized, "Not authorized")
	case errors.Is(err, orders.ErrForbidden):
		writeMessage(w, r, http.StatusForbidden, "Admin access only")
	case errors.Is(err, orders.ErrNotFound):
		writeMessage(w, r, http.StatusNotFound, "Order not found")
	case errors.Is(err, orders.ErrUpstreamPayment):
		log.Error("payment processor", "path", r.URL.Path, "err", err)
		writeMessage(w, r, http.StatusInternalServerError, "Failed to create payment intent")
	default:
		log.Error("request failed", "path", r.URL.Path, "err", err)
		writeMessage(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// clientMessage drops the sentinel prefix and capitalises what is left.
func clientMessage(err error) string {
	msg := err.Error()
	for _, s := range []error{orders.ErrValidation, orders.ErrSignatureVerification} {
		if rest, ok := strings.CutPrefix(msg, s.Error()+": "); ok {
			msg = rest
			break
		}
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
