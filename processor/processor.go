package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/middleware"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/provider/crm"
	"github.com/VadimVDM/VisAPI-sub006/provider/scraper"
)

// ContactPlatform is the external contact-management API.
type ContactPlatform interface {
	FindContact(ctx context.Context, phone string) (string, bool, error)
	UpsertContact(ctx context.Context, c crm.Contact) (string, error)
}

// Scraper runs the document-retrieval automation.
type Scraper interface {
	Scrape(ctx context.Context, req scraper.Request) (scraper.Result, error)
}

// Processors holds the collaborators shared by every handler.
type Processors struct {
	orders   order.Store
	messages message.Store
	contacts ContactPlatform
	senders  map[order.Channel]provider.Sender
	scraper  Scraper
	logger   *slog.Logger

	syncLockTTL time.Duration
	pruneMaxAge time.Duration
	now         func() time.Time
}

// Option configures Processors.
type Option func(*Processors)

// WithContactPlatform sets the contact platform used by contact sync.
func WithContactPlatform(c ContactPlatform) Option {
	return func(p *Processors) { p.contacts = c }
}

// WithSender sets the sender for a notification channel.
func WithSender(ch order.Channel, s provider.Sender) Option {
	return func(p *Processors) { p.senders[ch] = s }
}

// WithScraper sets the document automation client.
func WithScraper(s Scraper) Option {
	return func(p *Processors) { p.scraper = s }
}

// WithSyncLockTTL sets how long a contact sync holds the order's lease.
// It should exceed the contact-sync job timeout.
func WithSyncLockTTL(d time.Duration) Option {
	return func(p *Processors) { p.syncLockTTL = d }
}

// WithPruneMaxAge sets the default age beyond which log records are pruned.
func WithPruneMaxAge(d time.Duration) Option {
	return func(p *Processors) { p.pruneMaxAge = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processors) { p.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processors) { p.now = now }
}

// New creates Processors over the order and message stores.
func New(orders order.Store, messages message.Store, opts ...Option) *Processors {
	p := &Processors{
		orders:      orders,
		messages:    messages,
		senders:     make(map[order.Channel]provider.Sender),
		logger:      slog.Default(),
		syncLockTTL: 2 * time.Minute,
		pruneMaxAge: 30 * 24 * time.Hour,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// leaseOwner names the job holding an order lease. Attempts of the same
// job share the owner, so a retry is not locked out by the lease its
// abandoned predecessor still holds.
func leaseOwner(ctx context.Context) string {
	if info, ok := middleware.InfoFrom(ctx); ok {
		return info.JobID.String()
	}
	return uuid.NewString()
}
