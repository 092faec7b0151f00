// Package api exposes the CoachPipe dispatcher over HTTP.
//
// Clients call POST /v1/respond with the conversation so far and receive one
// tagged response. Conversation states and member profiles can be inspected
// and managed directly, and a Twilio webhook lets members talk to the coach
// over WhatsApp or SMS.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// DefaultWebhookTimeout bounds the asynchronous handling of one inbound message.
const DefaultWebhookTimeout = 2 * time.Minute

// Responder handles one conversational turn.
type Responder interface {
	Respond(ctx context.Context, req models.RespondRequest) (models.Response, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	AllowedOrigins   []string
	States           store.StateStore
	Profiles         store.ProfileStore
	Workouts         store.WorkoutLog
	Sender           messaging.Sender
	WebhookAuthToken string
	WebhookURL       string
	WebhookTimeout   time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAllowedOrigins sets the CORS origins. Defaults to "*".
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// WithStore backs the conversation, profile and workout endpoints with st.
func WithStore(st store.Store) Option {
	return func(o *Opts) {
		o.States = st
		o.Profiles = st
		o.Workouts = st
	}
}

// WithStateStore sets the store the conversation endpoints read and delete from.
func WithStateStore(s store.StateStore) Option {
	return func(o *Opts) { o.States = s }
}

// WithSender enables the Twilio webhook, replying through s.
func WithSender(s messaging.Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithWebhookValidation verifies the X-Twilio-Signature header of inbound
// webhooks against authToken and the public url Twilio posts to.
func WithWebhookValidation(authToken, url string) Option {
	return func(o *Opts) {
		o.WebhookAuthToken = authToken
		o.WebhookURL = url
	}
}

// WithWebhookTimeout bounds how long one inbound message may take.
func WithWebhookTimeout(d time.Duration) Option {
	return func(o *Opts) { o.WebhookTimeout = d }
}

// Server routes HTTP requests to the dispatcher and the stores.
type Server struct {
	router    *chi.Mux
	responder Responder
	opts      Opts

	inflight sync.WaitGroup
}

// NewServer creates a server around responder.
func NewServer(responder Responder, opts ...Option) (*Server, error) {
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	cfg := Opts{WebhookTimeout: DefaultWebhookTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	s := &Server{router: r, responder: responder, opts: cfg}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/v1/respond", s.handleRespond)
	s.router.Get("/v1/conversations/{id}", s.handleGetConversation)
	s.router.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
	s.router.Get("/v1/members/{id}/profile", s.handleGetProfile)
	s.router.Put("/v1/members/{id}/profile", s.handlePutProfile)
	s.router.Post("/v1/members/{id}/workouts", s.handleAddWorkout)
	s.router.Post("/v1/twilio/webhook", s.handleTwilioWebhook)
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// Wait blocks until every inbound webhook message has been handled.
func (s *Server) Wait() { s.inflight.Wait() }

// ListenAndServe serves on addr until ctx is cancelled, then drains in-flight
// requests and webhook replies.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}
