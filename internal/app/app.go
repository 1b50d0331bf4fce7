// Package app wires configuration, storage, the queue coordinator and the
// per-account mail handlers into one running outbox.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nhle/mail-outbox/internal/credential"
	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/queue"
	"github.com/nhle/mail-outbox/internal/remote/email"
	"github.com/nhle/mail-outbox/internal/store"
)

// probeTimeout bounds each reachability dial.
const probeTimeout = 5 * time.Second

// Passwords is the credential store the app reads account passwords from.
type Passwords interface {
	Password(accountID string) (string, error)
	DeletePassword(accountID string) error
}

// HandlerFactory builds the handler of one account. Tests replace it to
// avoid real servers.
type HandlerFactory func(account model.AccountConfig, password string, drafts store.DraftStore, opts ...email.Option) outbox.Handler

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHandlerFactory replaces the IMAP/SMTP handler constructor.
func WithHandlerFactory(f HandlerFactory) Option {
	return func(a *App) {
		a.newHandler = f
	}
}

// WithReachability overrides the probe built from the accounts' servers.
func WithReachability(r outbox.Reachability) Option {
	return func(a *App) {
		a.reach = r
	}
}

// App is a running outbox.
type App struct {
	Config      *model.AppConfig
	Store       *store.SQLiteStore
	Coordinator *outbox.Coordinator

	// Registry holds the coordinator's metrics.
	Registry *prometheus.Registry

	passwords  Passwords
	logger     *slog.Logger
	newHandler HandlerFactory
	reach      outbox.Reachability
}

// New opens the store and both queues, builds the coordinator and registers
// a handler for every account that has a stored password.
func New(ctx context.Context, cfg *model.AppConfig, passwords Passwords, opts ...Option) (*App, error) {
	a := &App{
		Config:    cfg,
		passwords: passwords,
		Registry:  prometheus.NewRegistry(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		newHandler: func(account model.AccountConfig, password string, drafts store.DraftStore, opts ...email.Option) outbox.Handler {
			return email.NewAccountHandler(account, password, drafts, opts...)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.reach == nil {
		a.reach = probeFor(cfg.Accounts)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.Store = st

	queueOpts := []queue.Option{
		queue.WithLogger(a.logger),
		queue.WithBackupExcluder(store.XattrExcluder{}),
	}
	entity, err := queue.Open(ctx, st.QueueBackend(store.EntityQueue), queueOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening entity queue: %w", err)
	}
	global, err := queue.Open(ctx, st.QueueBackend(store.GlobalQueue), queueOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening global queue: %w", err)
	}

	coordOpts := []outbox.Option{
		outbox.WithLogger(a.logger),
		outbox.WithRetryLimit(cfg.Drain.RetryLimit),
		outbox.WithMarkerPolicy(outbox.MarkerPolicy(cfg.Drain.SignOutMarkers)),
		outbox.WithMetrics(outbox.NewMetrics(a.Registry)),
	}
	if a.reach != nil {
		coordOpts = append(coordOpts, outbox.WithReachability(a.reach))
	}
	a.Coordinator = outbox.New(entity, global, coordOpts...)

	for _, account := range cfg.Accounts {
		if err := a.RegisterAccount(account); err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				a.logger.WarnContext(ctx, "account has no stored password, its tasks stay queued",
					slog.String("owner_id", account.ID))
				continue
			}
			st.Close()
			return nil, err
		}
	}

	return a, nil
}

// RegisterAccount registers the handler of account with the coordinator,
// replacing any previous one.
func (a *App) RegisterAccount(account model.AccountConfig) error {
	password, err := a.passwords.Password(account.ID)
	if err != nil {
		return fmt.Errorf("loading password for %s: %w", account.ID, err)
	}

	h := a.newHandler(account, password, a.Store,
		email.WithLogger(a.logger.With(slog.String("owner_id", account.ID))),
		email.WithSignOutHook(func(ctx context.Context, ownerID string) error {
			a.logger.InfoContext(ctx, "forgetting account password", slog.String("owner_id", ownerID))
			return a.passwords.DeletePassword(ownerID)
		}),
	)
	a.Coordinator.RegisterHandler(account.ID, h)
	return nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// probeFor returns a TCP probe over the IMAP servers of accounts that opted
// in, or nil when none did.
func probeFor(accounts []model.AccountConfig) outbox.Reachability {
	var addrs []string
	for _, account := range accounts {
		if account.Probe {
			addrs = append(addrs, net.JoinHostPort(account.IMAPHost, account.IMAPPort))
		}
	}
	if len(addrs) == 0 {
		return nil
	}
	return outbox.TCPProbe{Addrs: addrs, Timeout: probeTimeout}
}
