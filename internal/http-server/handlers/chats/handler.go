package chats

import (
	"log/slog"
	"net/http"

	"VentaBot/entity"
	"VentaBot/internal/lib/api/response"
	"VentaBot/internal/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Core is the storage surface for the operator chat list.
type Core interface {
	GetActiveConversations(botID string) ([]entity.Conversation, error)
}

// List returns a bot's conversations, most recent first.
func List(log *slog.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := chi.URLParam(r, "botID")

		conversations, err := core.GetActiveConversations(botID)
		if err != nil {
			log.With(sl.Module("chats.handler"), slog.String("bot", botID)).
				Error("list conversations", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("failed to load conversations"))
			return
		}

		render.JSON(w, r, response.OK(conversations))
	}
}
