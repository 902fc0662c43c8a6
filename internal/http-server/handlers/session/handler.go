package session

import (
	"log/slog"
	"net/http"

	botsession "VentaBot/bot/session"
	"VentaBot/internal/lib/api/response"
	"VentaBot/internal/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Core is the session lifecycle surface the handlers need.
type Core interface {
	Connect(botID string) (*botsession.Session, error)
	Session(botID string) (*botsession.Session, bool)
	Disconnect(botID string) error
}

// Status reports the session state, including the current pairing code
// while one is pending.
func Status(log *slog.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := chi.URLParam(r, "botID")

		sess, ok := core.Session(botID)
		if !ok {
			render.JSON(w, r, response.OK(botsession.Status{State: botsession.StateDisconnected}))
			return
		}

		render.JSON(w, r, response.OK(sess.Status()))
	}
}

// Connect brings a session up (or returns the existing one).
func Connect(log *slog.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := chi.URLParam(r, "botID")

		sess, err := core.Connect(botID)
		if err != nil {
			log.With(sl.Module("session.handler"), slog.String("bot", botID)).
				Error("connect failed", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		render.JSON(w, r, response.OK(sess.Status()))
	}
}

// Disconnect is the destructive unlink: session state and stored pairing
// credentials are gone after this.
func Disconnect(log *slog.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := chi.URLParam(r, "botID")

		if err := core.Disconnect(botID); err != nil {
			log.With(sl.Module("session.handler"), slog.String("bot", botID)).
				Error("disconnect failed", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		render.JSON(w, r, response.OK(botsession.Status{State: botsession.StateDisconnected}))
	}
}
