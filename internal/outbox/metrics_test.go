package outbox

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/mail-outbox/internal/model"
)

func TestMetricsRecordDrain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	c := newCoordinator(t, WithMetrics(m))

	h := &recorder{fn: func(task model.Task) Result {
		if task.Kind() == model.KindEmptyTrash {
			return Transient(errOffline)
		}
		return Success()
	}}
	c.RegisterHandler("u1", h)

	mustAdd(t, c, model.NewTask("u1", "m1", model.SaveDraft{}))
	mustAdd(t, c, model.NewTask("u1", "m1", model.Send{}))
	mustAdd(t, c, model.NewTask("u1", "", model.EmptyTrash{}))

	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksEnqueued.WithLabelValues(EntityQueue, string(model.KindSend))), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.tasksPending.WithLabelValues(EntityQueue)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksPending.WithLabelValues(GlobalQueue)), 0)

	c.Drain(ctx, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksHandled.WithLabelValues(string(model.KindSend), "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksHandled.WithLabelValues(string(model.KindEmptyTrash), "transient")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.drains.WithLabelValues("done")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.tasksPending.WithLabelValues(EntityQueue)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksPending.WithLabelValues(GlobalQueue)), 0)
}

func TestMetricsOfflineDrain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	c := newCoordinator(t, WithMetrics(m), WithReachability(ReachabilityFunc(func(context.Context) bool { return false })))

	c.Drain(ctx, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.drains.WithLabelValues("offline")), 0)
}

func TestNilMetricsAreInert(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.enqueued(EntityQueue, model.KindSend)
		m.drained(Report{})
		m.pending(1, 2)
	})
}
