package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
)

type collector struct {
	mu   sync.Mutex
	envs []events.EventEnvelope
}

func (c *collector) handle(_ context.Context, env events.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *collector) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.EventType, 0, len(c.envs))
	for _, e := range c.envs {
		out = append(out, e.Type)
	}
	return out
}

func TestBroker_PublishDomainEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBroker()

	all, progressOnly := new(collector), new(collector)
	require.NoError(t, b.Subscribe(ctx, all.handle))
	require.NoError(t, b.Subscribe(ctx, progressOnly.handle, dispatch.EventTypeCallProgressed))

	require.NoError(t, b.PublishDomainEvent(ctx,
		dispatch.NewCallProgressedEvent("call-1", map[string]any{"step": 1}),
		events.WithKey("call-1"),
	))
	require.NoError(t, b.PublishDomainEvent(ctx, dispatch.NewCallStartedEvent(dispatch.CallReport{CallRequestID: "call-1"})))

	assert.Equal(t, []events.EventType{dispatch.EventTypeCallProgressed, dispatch.EventTypeCallStarted}, all.types())
	assert.Equal(t, []events.EventType{dispatch.EventTypeCallProgressed}, progressOnly.types())
	assert.Equal(t, "call-1", all.envs[0].Key)
}

func TestBroker_HandlerErrorStopsDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBroker()
	boom := errors.New("boom")

	require.NoError(t, b.Subscribe(ctx, func(context.Context, events.EventEnvelope) error { return boom }))
	late := new(collector)
	require.NoError(t, b.Subscribe(ctx, late.handle))

	err := b.PublishDomainEvent(ctx, dispatch.NewCallProgressedEvent("call-1", nil))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, late.types())
}

func TestBroker_SubscriptionEndsWithContext(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	c := new(collector)
	require.NoError(t, b.Subscribe(ctx, c.handle))

	cancel()
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.PublishDomainEvent(context.Background(), dispatch.NewCallProgressedEvent("call-1", nil)))
	assert.Empty(t, c.types())
}

func TestBroker_Validation(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	assert.Error(t, b.Subscribe(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Subscribe(ctx, new(collector).handle), context.Canceled)
	assert.ErrorIs(t, b.PublishDomainEvent(ctx, dispatch.NewCallProgressedEvent("call-1", nil)), context.Canceled)
}
