package webhook

import (
	"log/slog"
	"net/http"

	"VentaBot/bot/cloudapi"
	"VentaBot/internal/lib/sl"

	"github.com/go-chi/chi/v5"
)

// Verify handles the cloud provider's GET verification handshake.
func Verify(log *slog.Logger, gateway *cloudapi.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.With(sl.Module("webhook")).Debug("webhook verification request")
		gateway.HandleVerification(w, r, chi.URLParam(r, "botID"))
	}
}

// Inbound handles POSTed message deliveries.
func Inbound(log *slog.Logger, gateway *cloudapi.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.With(sl.Module("webhook")).Debug("webhook message received")
		gateway.HandleWebhook(w, r, chi.URLParam(r, "botID"))
	}
}
