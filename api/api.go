// Package api exposes the HTTP surface of the orchestration core: order
// intake, saga re-drives, delivery-status callbacks, and queue admin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/VadimVDM/VisAPI-sub006/callback"
	"github.com/VadimVDM/VisAPI-sub006/engine"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// Signature headers carried by provider callbacks.
const (
	HeaderWhatsAppSignature = "X-Hub-Signature-256"
	HeaderMailerSignature   = "X-Mailer-Signature"
)

// maxCallbackBody caps the size of a callback payload.
const maxCallbackBody = 1 << 20

// API wires the HTTP handlers to an Engine.
type API struct {
	eng            *engine.Engine
	callbacks      *callback.Service
	verifiers      map[order.Channel]*callback.Verifier
	validate       *validator.Validate
	resyncInterval time.Duration
	logger         *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithCallbacks enables the delivery-status callback routes. A nil
// verifier accepts unsigned callbacks for that channel.
func WithCallbacks(svc *callback.Service, whatsapp, mailer *callback.Verifier) Option {
	return func(a *API) {
		a.callbacks = svc
		if whatsapp != nil {
			a.verifiers[order.ChannelWhatsApp] = whatsapp
		}
		if mailer != nil {
			a.verifiers[order.ChannelEmail] = mailer
		}
	}
}

// WithResyncInterval sets the stagger between contact syncs of a bulk
// re-drive.
func WithResyncInterval(d time.Duration) Option {
	return func(a *API) { a.resyncInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:            eng,
		verifiers:      make(map[order.Channel]*callback.Verifier),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		resyncInterval: 2 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every route under /v1 on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		a.registerOrderRoutes(r)
		a.registerCallbackRoutes(r)
		a.registerJobRoutes(r)
		a.registerDLQRoutes(r)
		a.registerCronRoutes(r)
		r.Get("/stats", a.handle(a.stats))
	})
}

func (a *API) registerOrderRoutes(r chi.Router) {
	r.Post("/orders", a.handle(a.createOrder))
	r.Post("/orders/resync", a.handle(a.resyncOrders))
	r.Get("/orders/{orderId}", a.handle(a.getOrder))
	r.Get("/orders/{orderId}/messages", a.handle(a.listOrderMessages))
	r.Post("/orders/{orderId}/resync", a.handle(a.resyncOrder))
	r.Post("/orders/{orderId}/documents", a.handle(a.scrapeDocument))
}

func (a *API) registerCallbackRoutes(r chi.Router) {
	r.Post("/callbacks/whatsapp", a.handle(a.whatsAppCallback))
	r.Post("/callbacks/mailer", a.handle(a.mailerCallback))
}

func (a *API) registerJobRoutes(r chi.Router) {
	r.Get("/jobs", a.handle(a.listJobs))
	r.Get("/jobs/counts", a.handle(a.jobCounts))
	r.Get("/jobs/{jobId}", a.handle(a.getJob))
	r.Post("/jobs/{jobId}/cancel", a.handle(a.cancelJob))
}

func (a *API) registerDLQRoutes(r chi.Router) {
	r.Get("/dlq", a.handle(a.listDLQ))
	r.Get("/dlq/count", a.handle(a.dlqCount))
	r.Post("/dlq/purge", a.handle(a.purgeDLQ))
	r.Get("/dlq/{entryId}", a.handle(a.getDLQ))
	r.Post("/dlq/{entryId}/replay", a.handle(a.replayDLQ))
}

func (a *API) registerCronRoutes(r chi.Router) {
	r.Get("/crons", a.handle(a.listCrons))
	r.Get("/crons/{cronId}", a.handle(a.getCron))
	r.Post("/crons/{cronId}/enable", a.handle(a.enableCron))
	r.Post("/crons/{cronId}/disable", a.handle(a.disableCron))
	r.Delete("/crons/{cronId}", a.handle(a.deleteCron))
}
