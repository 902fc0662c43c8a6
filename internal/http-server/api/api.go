package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"VentaBot/bot/cloudapi"
	"VentaBot/internal/config"
	"VentaBot/internal/http-server/handlers/chats"
	"VentaBot/internal/http-server/handlers/errors"
	"VentaBot/internal/http-server/handlers/session"
	"VentaBot/internal/http-server/handlers/webhook"
	"VentaBot/internal/http-server/middleware/authenticate"
	"VentaBot/internal/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

// Handler bundles everything the routes need.
type Handler struct {
	Gateway  *cloudapi.Gateway
	Sessions session.Core
	Chats    chats.Core
}

// New builds the router and serves until the listener dies. The webhook
// routes sit outside the operator auth: the provider authenticates with its
// own signature scheme.
func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/webhook/{botID}", func(r chi.Router) {
		r.Get("/", webhook.Verify(log, handler.Gateway))
		r.Post("/", webhook.Inbound(log, handler.Gateway))
	})

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(authenticate.New(log, conf.Listen.ApiKey))
		v1.Route("/session/{botID}", func(r chi.Router) {
			r.Get("/status", session.Status(log, handler.Sessions))
			r.Post("/connect", session.Connect(log, handler.Sessions))
			r.Post("/disconnect", session.Disconnect(log, handler.Sessions))
		})
		v1.Route("/conversations", func(r chi.Router) {
			r.Get("/{botID}", chats.List(log, handler.Chats))
		})
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  router,
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
