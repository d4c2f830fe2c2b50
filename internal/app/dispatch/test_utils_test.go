package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
	"github.com/ahrav/dispatch/pkg/common/logger"
)

const eventually = 2 * time.Second

func newTestCoordinator(t *testing.T, cfg Config, opts ...Option) *Coordinator {
	t.Helper()

	metrics, err := NewCoordinatorMetrics(noopmetric.NewMeterProvider())
	require.NoError(t, err)

	if cfg.CancelTimeout == 0 {
		cfg.CancelTimeout = time.Second
	}
	cfg.InterruptPollInterval = 5 * time.Millisecond

	c := NewCoordinator(cfg, metrics, noop.NewTracerProvider().Tracer("test"), logger.Noop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c
}

func newRequest(t *testing.T, call domain.Callable, opts ...domain.CallRequestOption) *domain.CallRequest {
	t.Helper()
	req, err := domain.NewCallRequest(call, opts...)
	require.NoError(t, err)
	return req
}

func succeed(context.Context, domain.Conduit) (any, error) { return "ok", nil }

// gate is a callable that blocks until released.
type gate struct {
	started     chan struct{}
	startedOnce sync.Once
	release     chan struct{}
	releaseOnce sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

// call honours cancellation through its context.
func (g *gate) call(ctx context.Context, _ domain.Conduit) (any, error) {
	g.startedOnce.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return "released", nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// stubborn ignores cancellation entirely.
func (g *gate) stubborn(context.Context, domain.Conduit) (any, error) {
	g.startedOnce.Do(func() { close(g.started) })
	<-g.release
	return "released", nil
}

func (g *gate) open() { g.releaseOnce.Do(func() { close(g.release) }) }

func (g *gate) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(eventually):
		t.Fatal("callable did not start")
	}
}

func findReport(t *testing.T, c *Coordinator, id string) domain.CallReport {
	t.Helper()
	reports, err := c.FindCallReports(context.Background(), domain.CallReportFilter{CallRequestID: id})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	return reports[0]
}

func waitState(t *testing.T, c *Coordinator, id string, state domain.TaskState) domain.CallReport {
	t.Helper()
	require.Eventually(t, func() bool {
		reports, err := c.FindCallReports(context.Background(), domain.CallReportFilter{CallRequestID: id})
		return err == nil && len(reports) == 1 && reports[0].State == state
	}, eventually, 5*time.Millisecond, "call %s never reached %s", id, state)
	return findReport(t, c, id)
}

// hookRecorder records the order in which execution hooks fire.
type hookRecorder struct {
	mu    sync.Mutex
	calls []domain.ExecutionHook
}

func (r *hookRecorder) options() []domain.CallRequestOption {
	var opts []domain.CallRequestOption
	for _, hook := range []domain.ExecutionHook{
		domain.ExecutionHookFinish, domain.ExecutionHookError, domain.ExecutionHookComplete,
	} {
		hook := hook
		opts = append(opts, domain.WithExecutionHook(hook, func(context.Context, *domain.CallRequest, domain.CallReport) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, hook)
		}))
	}
	return opts
}

func (r *hookRecorder) recorded() []domain.ExecutionHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ExecutionHook(nil), r.calls...)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, event events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// mockCallReportRepository implements domain.CallReportRepository for testing.
type mockCallReportRepository struct{ mock.Mock }

func (m *mockCallReportRepository) Archive(ctx context.Context, report domain.CallReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *mockCallReportRepository) GetCallReport(ctx context.Context, id string) (domain.ArchivedCallReport, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.ArchivedCallReport), args.Error(1)
}

func (m *mockCallReportRepository) ListCallReports(ctx context.Context, states []domain.TaskState, limit int) ([]domain.ArchivedCallReport, error) {
	args := m.Called(ctx, states, limit)
	if reports := args.Get(0); reports != nil {
		return reports.([]domain.ArchivedCallReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCallReportRepository) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(int64), args.Error(1)
}

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
