package relay

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

const (
	wsSessionKey     = "session"
	wsParticipantKey = "participant"
)

// AppOptions is options of the relay application
type AppOptions struct {
	Env            core.Environment
	Address        string
	MaxMessageSize int64
	Hub            *Hub

	websocket *melody.Melody
}

// App serves the websocket transport of the relay and its metrics
type App struct {
	AppOptions
}

func NewApp(options AppOptions) *App {
	options.websocket = melody.New()
	if options.MaxMessageSize > 0 {
		options.websocket.Config.MaxMessageSize = options.MaxMessageSize
	}

	return &App{options}
}

// Start serves until SIGINT or SIGTERM and then shuts down gracefully
func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	core.InitLogger(app.Env)
	router := app.Router()

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the relay")
		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("close websocket sessions")
		}
		close(done)
	})

	go func() {
		<-quit
		log.Warn().Msg("the relay is going shutting down")

		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the relay")
		}
	}()

	log.Info().Str("address", app.Address).Msg("relay started")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("relay has been closed immediatelly")
	}

	<-done
	log.Info().Msg("relay stopped")

	return nil
}

// Router constructs the http router
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	app.websocket.HandleDisconnect(DisconnectHandler(app.Hub))
	app.websocket.HandleMessage(HandleMessage(app.Hub))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Debug().Err(err).Str("service", "ws").Msg("error in websocket session")
	})

	r.Get("/ws", WsHandler(app.websocket))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// sessionOutbox delivers to one websocket connection
type sessionOutbox struct {
	session *melody.Session
}

func (o sessionOutbox) Deliver(msg *signaling.Message) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}
	return o.session.Write(payload)
}

// WsHandler upgrades /ws?session=<id>&participant=<id>
func WsHandler(websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := r.URL.Query().Get(wsSessionKey)
		participant := r.URL.Query().Get(wsParticipantKey)
		if session == "" || participant == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		keys := make(map[string]interface{})
		keys[wsSessionKey] = core.SessionID(session)
		keys[wsParticipantKey] = core.ParticipantID(participant)

		if err := websocket.HandleRequestWithKeys(w, r, keys); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't handle request")
		}
	}
}

func DisconnectHandler(hub *Hub) func(s *melody.Session) {
	return func(s *melody.Session) {
		session, participant, ok := sessionKeys(s)
		if !ok {
			return
		}
		hub.Disconnect(session, participant, sessionOutbox{session: s})
	}
}

func HandleMessage(hub *Hub) func(s *melody.Session, payload []byte) {
	return func(s *melody.Session, payload []byte) {
		session, participant, ok := sessionKeys(s)
		if !ok {
			closeWsSession(s)
			return
		}

		msg, err := signaling.MessageFromBytes(payload)
		if err != nil {
			log.Warn().Err(err).Str("service", "ws").Str("participant", string(participant)).Msg("drop malformed message")
			return
		}

		hub.Handle(session, participant, sessionOutbox{session: s}, msg)
	}
}

func sessionKeys(s *melody.Session) (core.SessionID, core.ParticipantID, bool) {
	session, ok := s.Keys[wsSessionKey].(core.SessionID)
	if !ok {
		return "", "", false
	}
	participant, ok := s.Keys[wsParticipantKey].(core.ParticipantID)
	if !ok {
		return "", "", false
	}
	return session, participant, true
}

func closeWsSession(s *melody.Session) {
	if err := s.Close(); err != nil {
		log.Debug().Err(err).Str("service", "ws").Msg("close session")
	}
}
