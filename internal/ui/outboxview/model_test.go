package outboxview

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/keys"
	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
)

type fakeSource struct {
	mu         sync.Mutex
	tasks      []outbox.QueuedTask
	stalled    []model.Task
	report     outbox.Report
	drains     int
	budgeted   bool
	removed    []string
	humanCheck bool
}

func (f *fakeSource) Tasks(context.Context) []outbox.QueuedTask { return f.tasks }

func (f *fakeSource) Stalled(context.Context) []model.Task { return f.stalled }

func (f *fakeSource) Drain(_ context.Context, remaining func() time.Duration) outbox.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	f.budgeted = remaining != nil
	return f.report
}

func (f *fakeSource) RemoveAllTasks(_ context.Context, entityID string, match func(model.Action) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, entityID)
	n := 0
	for _, qt := range f.tasks {
		if qt.Task.EntityID == entityID && match(qt.Task.Action) {
			n++
		}
	}
	return n, nil
}

func (f *fakeSource) SetHumanCheckRequired(required bool) { f.humanCheck = required }

func (f *fakeSource) HumanCheckRequired() bool { return f.humanCheck }

func queued(queue, id, owner, entity string, action model.Action, runnable bool) outbox.QueuedTask {
	t := model.NewTask(owner, entity, action)
	t.ID = id
	return outbox.QueuedTask{Queue: queue, Task: t, Runnable: runnable}
}

func sampleSource() *fakeSource {
	return &fakeSource{
		tasks: []outbox.QueuedTask{
			queued(outbox.EntityQueue, "t1", "work", "draft-1", model.SaveDraft{}, true),
			queued(outbox.EntityQueue, "t2", "work", "draft-1", model.Send{}, false),
			queued(outbox.GlobalQueue, "t3", "home", "", model.EmptyTrash{}, true),
		},
		stalled: nil,
		report:  outbox.Report{Dispatched: 3, Removed: 3},
	}
}

func press(t *testing.T, m tea.Model, k tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(k)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(t *testing.T, src *fakeSource) Model {
	t.Helper()
	m := New(src, keys.DefaultKeyMap(), time.Second, 120, 30)
	msg := m.LoadTasks()()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestViewListsQueuedTasks(t *testing.T) {
	t.Parallel()
	m := loaded(t, sampleSource())

	view := m.View()
	assert.Contains(t, view, "Outbox")
	assert.Contains(t, view, "3 pending")
	assert.Contains(t, view, "saveDraft")
	assert.Contains(t, view, "emptyTrash")
	assert.Contains(t, view, "2 runnable")
	assert.Contains(t, view, "1 waiting")
}

func TestViewMarksStalledTasks(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	src.stalled = []model.Task{src.tasks[1].Task}
	m := loaded(t, src)

	assert.Equal(t, "stalled", m.state(src.tasks[1]))
	assert.Contains(t, m.View(), "1 stalled")
}

func TestViewFilterCyclesQueues(t *testing.T) {
	t.Parallel()
	m := loaded(t, sampleSource())
	require.Len(t, m.visible, 3)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Len(t, m.visible, 2)
	assert.Equal(t, outbox.EntityQueue, m.visible[0].Queue)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Len(t, m.visible, 1)
	assert.Equal(t, outbox.GlobalQueue, m.visible[0].Queue)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Len(t, m.visible, 3)
}

func TestViewDrainKey(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	m := loaded(t, src)

	m, cmd := press(t, m, runes("d"))
	require.NotNil(t, cmd)
	assert.True(t, m.draining)
	assert.Contains(t, m.View(), "syncing")

	// A second press while draining does nothing.
	_, again := press(t, m, runes("d"))
	assert.Nil(t, again)

	next, _ := m.Update(m.drain()())
	m = next.(Model)
	assert.False(t, m.draining)
	assert.Equal(t, 1, src.drains)
	assert.True(t, src.budgeted)
	assert.Equal(t, "dispatched 3, removed 3, failed 0", m.status)
}

func TestViewUnboundedDrain(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	m := New(src, keys.DefaultKeyMap(), 0, 80, 20)

	_ = m.drain()()
	assert.False(t, src.budgeted)
}

func TestViewOfflineReport(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	src.report = outbox.Report{Offline: true}
	m := loaded(t, src)

	next, _ := m.Update(DrainFinishedMsg{Report: src.report})
	m = next.(Model)
	assert.Equal(t, "drain skipped: offline", m.status)
	assert.Contains(t, m.View(), "offline")
}

func TestViewRemoveSelectedEntity(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	m := loaded(t, src)

	_, cmd := press(t, m, runes("x"))
	require.NotNil(t, cmd)
	msg, ok := cmd().(TasksRemovedMsg)
	require.True(t, ok)
	assert.Equal(t, "draft-1", msg.EntityID)
	assert.Equal(t, 2, msg.Removed)
	assert.Equal(t, []string{"draft-1"}, src.removed)

	next, _ := m.Update(msg)
	assert.Equal(t, "cancelled 2 task(s) for draft-1", next.(Model).status)
}

func TestViewRemoveIgnoresGlobalRows(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	m := loaded(t, src)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})

	_, cmd := press(t, m, runes("x"))
	assert.Nil(t, cmd)
	assert.Empty(t, src.removed)
}

func TestViewHumanCheckToggle(t *testing.T) {
	t.Parallel()
	src := sampleSource()
	m := loaded(t, src)

	m, _ = press(t, m, runes("p"))
	assert.True(t, src.humanCheck)
	assert.Contains(t, m.View(), "paused")

	m, _ = press(t, m, runes("p"))
	assert.False(t, src.humanCheck)
	assert.Equal(t, "dispatch resumed", m.status)
}

func TestViewEmptyState(t *testing.T) {
	t.Parallel()
	m := loaded(t, &fakeSource{})

	assert.Contains(t, m.View(), "All changes are synced.")
}

func TestViewQuit(t *testing.T) {
	t.Parallel()
	m := loaded(t, sampleSource())

	_, cmd := press(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
