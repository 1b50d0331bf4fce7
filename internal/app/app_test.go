package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/credential"
	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/remote/email"
	"github.com/nhle/mail-outbox/internal/store"
)

type memPasswords struct {
	mu        sync.Mutex
	passwords map[string]string
}

func (m *memPasswords) Password(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passwords[id]
	if !ok {
		return "", credential.ErrNotFound
	}
	return p, nil
}

func (m *memPasswords) DeletePassword(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.passwords, id)
	return nil
}

func testConfig(t *testing.T) *model.AppConfig {
	t.Helper()
	return &model.AppConfig{
		Storage: model.StorageConfig{Path: filepath.Join(t.TempDir(), "outbox.db")},
		Drain:   model.DrainConfig{RetryLimit: 2, SignOutMarkers: model.SignOutMarkersWhereWork},
		Accounts: []model.AccountConfig{
			{ID: "work", Email: "ann@work.example", IMAPHost: "imap.work.example", IMAPPort: "993", DraftsMailbox: "Drafts"},
			{ID: "home", Email: "ann@home.example", IMAPHost: "imap.home.example", IMAPPort: "993", Probe: true},
		},
	}
}

// emailFactory builds real email handlers with no servers behind them; only
// actions that never reach the network may be dispatched through it.
func emailFactory(account model.AccountConfig, _ string, drafts store.DraftStore, opts ...email.Option) outbox.Handler {
	return email.NewHandler(account, nil, nil, drafts, opts...)
}

func open(t *testing.T, cfg *model.AppConfig, pw *memPasswords, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithHandlerFactory(emailFactory)}, opts...)
	a, err := New(context.Background(), cfg, pw, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRegistersAccountsWithPasswords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pw := &memPasswords{passwords: map[string]string{"work": "secret"}}
	a := open(t, testConfig(t), pw, WithReachability(outbox.ReachabilityFunc(func(context.Context) bool { return true })))

	_, err := a.Coordinator.AddTask(ctx, model.NewTask("work", "", model.EmptyTrash{}), false)
	require.NoError(t, err)

	_, err = a.Coordinator.AddTask(ctx, model.NewTask("home", "", model.EmptyTrash{}), false)
	require.ErrorIs(t, err, outbox.ErrNoHandler)
}

func TestSignOutForgetsPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pw := &memPasswords{passwords: map[string]string{"work": "secret", "home": "other"}}
	a := open(t, testConfig(t), pw, WithReachability(outbox.ReachabilityFunc(func(context.Context) bool { return true })))

	_, err := a.Coordinator.AddTask(ctx, model.NewTask("work", "", model.SignOut{}), false)
	require.NoError(t, err)

	report := a.Coordinator.Drain(ctx, nil)
	assert.Equal(t, 1, report.Dispatched)

	_, err = pw.Password("work")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	_, err = pw.Password("home")
	assert.NoError(t, err)

	_, err = a.Coordinator.AddTask(ctx, model.NewTask("work", "", model.EmptyTrash{}), false)
	assert.ErrorIs(t, err, outbox.ErrNoHandler, "handler is unregistered after sign-out")
}

func TestQueuesSurviveRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	pw := &memPasswords{passwords: map[string]string{"work": "secret"}}

	first, err := New(ctx, cfg, pw, WithHandlerFactory(emailFactory))
	require.NoError(t, err)
	_, err = first.Coordinator.AddTask(ctx, model.NewTask("work", "d1", model.SaveDraft{}), false)
	require.NoError(t, err)
	_, err = first.Coordinator.AddTask(ctx, model.NewTask("work", "d1", model.Send{}), false)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := open(t, cfg, pw)
	entity, global := second.Coordinator.Counts()
	assert.Equal(t, 2, entity)
	assert.Zero(t, global)
	assert.Equal(t, []string{"d1"}, second.Coordinator.QueuedMessageIDs(ctx))
}

func TestOfflineDrainSkipsDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pw := &memPasswords{passwords: map[string]string{"work": "secret"}}
	a := open(t, testConfig(t), pw, WithReachability(outbox.ReachabilityFunc(func(context.Context) bool { return false })))

	_, err := a.Coordinator.AddTask(ctx, model.NewTask("work", "", model.SignOut{}), false)
	require.NoError(t, err)

	report := a.Coordinator.Drain(ctx, nil)
	assert.True(t, report.Offline)
	assert.Zero(t, report.Dispatched)

	n, err := testutil.GatherAndCount(a.Registry, "outbox_drains_total", "outbox_tasks_pending")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one drain result series and two queue depth series")
}

func TestProbeFor(t *testing.T) {
	t.Parallel()

	assert.Nil(t, probeFor([]model.AccountConfig{{ID: "a"}}))

	probe, ok := probeFor(testConfig(t).Accounts).(outbox.TCPProbe)
	require.True(t, ok)
	assert.Equal(t, []string{"imap.home.example:993"}, probe.Addrs)
}
