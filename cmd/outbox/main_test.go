package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/queue"
)

func TestPrintReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		report outbox.Report
		want   string
	}{
		{
			name:   "paused for human check",
			report: outbox.Report{HumanCheck: true},
			want:   "skipped: dispatch is paused\n",
		},
		{
			name:   "offline",
			report: outbox.Report{Offline: true},
			want:   "skipped: offline\n",
		},
		{
			name:   "finished",
			report: outbox.Report{Dispatched: 3, Removed: 4, Failed: 1},
			want:   "dispatched 3, removed 4, failed 1\n",
		},
		{
			name:   "budget ran out",
			report: outbox.Report{Dispatched: 1, Removed: 1, Paused: true, Err: errors.New("ignored")},
			want:   "dispatched 1, removed 1, failed 0\npaused: budget exhausted, work remains\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printReport(&buf, tt.report)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	logger := newLogger("warn", &buf)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))

	logger = newLogger("nonsense", &buf)
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
}

func TestRunWithoutCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run(nil, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "usage: outbox")
	assert.Empty(t, stdout.String())
}

func newTestCoordinator(t *testing.T) *outbox.Coordinator {
	t.Helper()
	ctx := context.Background()

	entity, err := queue.Open(ctx, queue.NewMemoryBackend())
	require.NoError(t, err)
	global, err := queue.Open(ctx, queue.NewMemoryBackend())
	require.NoError(t, err)

	return outbox.New(entity, global)
}

func TestSignOutDrainsBeforeReturning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestCoordinator(t)

	var signedOut atomic.Bool
	c.RegisterHandler("u1", outbox.HandlerFunc(func(_ context.Context, task model.Task) outbox.Result {
		if task.IsSignOut() {
			signedOut.Store(true)
		}
		return outbox.Success()
	}))

	var stdout bytes.Buffer
	require.NoError(t, applySession(ctx, c, "signout", "u1", &stdout))

	assert.True(t, signedOut.Load(), "sign-out must be handled before the command returns")
	entity, global := c.Counts()
	assert.Zero(t, entity)
	assert.Zero(t, global)
	assert.Contains(t, stdout.String(), "signout queued ")
	assert.Contains(t, stdout.String(), "dispatched 1, removed 1, failed 0\n")
}

func TestSignInDoesNotDrain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestCoordinator(t)

	var calls atomic.Int32
	c.RegisterHandler("u1", outbox.HandlerFunc(func(context.Context, model.Task) outbox.Result {
		calls.Add(1)
		return outbox.Success()
	}))
	_, err := c.AddTask(ctx, model.NewTask("u1", "", model.EmptyTrash{}), false)
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, applySession(ctx, c, "signin", "u1", &stdout))

	assert.Equal(t, "signin applied\n", stdout.String())
	assert.Zero(t, calls.Load())
	entity, global := c.Counts()
	assert.Zero(t, entity)
	assert.Zero(t, global, "sign-in resets the account's queued work")
}
