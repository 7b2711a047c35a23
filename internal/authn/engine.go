// ABOUTME: Authentication engine orchestrating WebAuthn ceremonies and token lifecycles
// ABOUTME: The only component with rules spanning users, credentials and token slots

package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/metrics"
	"github.com/2389/warden/internal/notify"
	"github.com/2389/warden/internal/store"
)

// Defaults applied by New when a Config field is zero.
const (
	DefaultChallengeValidity = 10 * time.Minute
	DefaultTokenTTL          = 60 * time.Minute
	DefaultRefreshTTL        = 24 * time.Hour
	DefaultWebAuthnTimeout   = 2 * time.Minute
)

// DefaultScope is requested for authn token exchanges that name no scope.
var DefaultScope = []string{"user:read", "user:write"}

// Config holds the engine settings.
type Config struct {
	RelyingPartyID    string
	RelyingPartyName  string
	Origins           []string
	VerificationURL   string
	ChallengeValidity time.Duration
	TokenTTL          time.Duration
	RefreshTTL        time.Duration
	WebAuthnTimeout   time.Duration
	DefaultScope      []string
}

func (c *Config) applyDefaults() {
	if c.ChallengeValidity == 0 {
		c.ChallengeValidity = DefaultChallengeValidity
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.WebAuthnTimeout == 0 {
		c.WebAuthnTimeout = DefaultWebAuthnTimeout
	}
	if c.DefaultScope == nil {
		c.DefaultScope = DefaultScope
	}
	if c.RelyingPartyName == "" {
		c.RelyingPartyName = c.RelyingPartyID
	}
}

func (c *Config) validate() error {
	if c.RelyingPartyID == "" {
		return errors.New("relying party id is required")
	}
	if len(c.Origins) == 0 {
		return errors.New("at least one origin is required")
	}
	if c.RefreshTTL <= c.TokenTTL {
		return fmt.Errorf("refresh ttl (%s) must exceed token ttl (%s)", c.RefreshTTL, c.TokenTTL)
	}
	return nil
}

// Client describes the caller of a ceremony step.
type Client struct {
	IP        string
	UserAgent string
}

// Engine implements registration, login, issuance, exchange and verification.
type Engine struct {
	cfg      Config
	store    store.CredentialStore
	catalog  *Catalog
	ceremony *Ceremony
	codec    *auth.Codec
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

var _ auth.Verifier = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for expiry checks and claims.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNotifier sets where first-login verification messages go.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics records ceremony and token outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine over st.
func New(cfg Config, st store.CredentialStore, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "authn")
	if e.notifier == nil {
		e.notifier = notify.NewLogNotifier(e.logger)
	}

	ceremony, err := NewCeremony(CeremonyConfig{
		RelyingPartyID:   cfg.RelyingPartyID,
		RelyingPartyName: cfg.RelyingPartyName,
		Origins:          cfg.Origins,
		Timeout:          cfg.WebAuthnTimeout,
	})
	if err != nil {
		return nil, err
	}
	e.ceremony = ceremony
	e.catalog = NewCatalog(st, e.metrics)
	e.codec = auth.NewCodec(cfg.RelyingPartyID, cfg.TokenTTL, cfg.RefreshTTL, e.now)
	return e, nil
}

// Catalog exposes the privilege catalog, e.g. for Reload.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Store exposes the underlying credential store.
func (e *Engine) Store() store.CredentialStore {
	return e.store
}

// audit appends an entry; failures are logged and never fail the operation.
func (e *Engine) audit(ctx context.Context, actor string, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	if actor == "" {
		actor = "anonymous"
	}
	entry := &store.AuditEntry{
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Timestamp:  e.now().UTC(),
		Detail:     detail,
	}
	if err := e.store.AppendAuditLog(ctx, entry); err != nil {
		e.logger.Warn("failed to append audit log", "action", action, "error", err)
	}
}

// storeError maps a store failure to an API error.
func storeError(err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierr.Wrap(apierr.KindNotFound, notFound, err)
	case errors.Is(err, store.ErrConflict):
		return apierr.Wrap(apierr.KindConflict, "Already exists", err)
	default:
		return apierr.Wrap(apierr.KindInternal, "Storage failure", err)
	}
}
