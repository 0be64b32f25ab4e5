package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/provider"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

// memEpisodes is an in-memory EpisodeRepository with the same compare-and-update
// contract as the gorm implementation.
type memEpisodes struct {
	mu      sync.Mutex
	rows    []*entity.Episode
	nextID  int64
	version time.Time
	clock   *fakeClock

	// beforeCAS runs before each compare-and-update, outside the lock
	beforeCAS func(subscriptionID string)
	casErr    error
}

func newMemEpisodes(clock *fakeClock) *memEpisodes {
	return &memEpisodes{clock: clock}
}

func clone(ep *entity.Episode) *entity.Episode {
	out := *ep
	out.Metadata = make(map[string]string, len(ep.Metadata))
	for k, v := range ep.Metadata {
		out.Metadata[k] = v
	}
	out.PendingEffects = append([]entity.SideEffect(nil), ep.PendingEffects...)
	return &out
}

// tick follows the clock and stays strictly increasing, like updated_at in the table
func (m *memEpisodes) tick() time.Time {
	next := m.version.Add(time.Microsecond)
	if now := m.clock.Now().Truncate(time.Microsecond); now.After(next) {
		next = now
	}
	m.version = next
	return next
}

func (m *memEpisodes) current(subscriptionID string) *entity.Episode {
	var resolved *entity.Episode
	for _, ep := range m.rows {
		if ep.SubscriptionID != subscriptionID {
			continue
		}
		if ep.State != entity.StateResolved {
			return ep
		}
		resolved = ep
	}
	return resolved
}

func (m *memEpisodes) Create(_ context.Context, subscriptionID string, failedAt time.Time, lastError string, nextRetryAt time.Time) (*entity.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.current(subscriptionID); cur != nil && cur.State != entity.StateResolved {
		return nil, domainErrors.Conflict(subscriptionID, "open episode exists")
	}
	m.nextID++
	v := m.tick()
	next := nextRetryAt
	ep := &entity.Episode{
		ID:             m.nextID,
		SubscriptionID: subscriptionID,
		FailedAt:       failedAt,
		State:          entity.StateRetrying,
		LastError:      lastError,
		NextRetryAt:    &next,
		Metadata:       map[string]string{},
		CreatedAt:      v,
		UpdatedAt:      v,
	}
	m.rows = append(m.rows, ep)
	return clone(ep), nil
}

func (m *memEpisodes) Get(_ context.Context, subscriptionID string) (*entity.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current(subscriptionID)
	if cur == nil {
		return nil, domainErrors.NotFound(subscriptionID)
	}
	return clone(cur), nil
}

func (m *memEpisodes) CompareAndUpdate(_ context.Context, subscriptionID string, expected time.Time, patch entity.EpisodePatch) (*entity.Episode, error) {
	if m.beforeCAS != nil {
		m.beforeCAS(subscriptionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.casErr != nil {
		return nil, m.casErr
	}
	cur := m.current(subscriptionID)
	if cur == nil {
		return nil, domainErrors.NotFound(subscriptionID)
	}
	if !cur.UpdatedAt.Equal(expected) {
		return nil, domainErrors.Conflict(subscriptionID, "stale version")
	}
	updated := patch.Apply(*cur)
	updated.UpdatedAt = m.tick()
	*cur = updated
	return clone(cur), nil
}

func (m *memEpisodes) List(_ context.Context, filter entity.EpisodeFilter, page entity.PaginationParams) ([]*entity.Episode, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page.Validate()
	var matched []*entity.Episode
	for i := len(m.rows) - 1; i >= 0; i-- {
		ep := m.rows[i]
		if filter.State != nil && ep.State != *filter.State {
			continue
		}
		matched = append(matched, clone(ep))
	}
	total := int64(len(matched))
	start := min(page.CalculateOffset(), len(matched))
	end := min(start+page.Limit, len(matched))
	return matched[start:end], total, nil
}

func (m *memEpisodes) ListOverdue(_ context.Context, cutoff time.Time, limit int) ([]*entity.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Episode
	for _, ep := range m.rows {
		if ep.State == entity.StateSuspended || ep.State == entity.StateResolved {
			continue
		}
		if ep.NextRetryAt == nil || !ep.NextRetryAt.After(cutoff) {
			out = append(out, clone(ep))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NextRetryAt == nil || out[j].NextRetryAt == nil {
			return out[j].NextRetryAt != nil
		}
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEpisodes) ListPendingEffects(_ context.Context, limit int) ([]*entity.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Episode
	for _, ep := range m.rows {
		if len(ep.PendingEffects) > 0 {
			out = append(out, clone(ep))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mutate edits the current row directly, as a concurrent writer would
func (m *memEpisodes) mutate(subscriptionID string, fn func(ep *entity.Episode)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.current(subscriptionID); cur != nil {
		fn(cur)
		cur.UpdatedAt = m.tick()
	}
}

type scheduledRetry struct {
	SubscriptionID string
	RunAt          time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduledRetry
	err   error
}

func (s *fakeScheduler) Schedule(_ context.Context, subscriptionID string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, scheduledRetry{SubscriptionID: subscriptionID, RunAt: runAt})
	return nil
}

func (s *fakeScheduler) last() scheduledRetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return scheduledRetry{}
	}
	return s.calls[len(s.calls)-1]
}

// fakeGateway returns queued results in order, then the fallback
type fakeGateway struct {
	mu       sync.Mutex
	queue    []*provider.ChargeResult
	fallback *provider.ChargeResult
	err      error
	calls    int
	onCharge func(subscriptionID string)
}

func declining(message string) *fakeGateway {
	return &fakeGateway{fallback: &provider.ChargeResult{ErrorMessage: message}}
}

func (g *fakeGateway) ChargeLatestInvoice(_ context.Context, subscriptionID string) (*provider.ChargeResult, error) {
	g.mu.Lock()
	g.calls++
	hook := g.onCharge
	var result *provider.ChargeResult
	if len(g.queue) > 0 {
		result = g.queue[0]
		g.queue = g.queue[1:]
	} else {
		result = g.fallback
	}
	err := g.err
	g.mu.Unlock()

	if hook != nil {
		hook(subscriptionID)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &provider.ChargeResult{Succeeded: true}, nil
	}
	copied := *result
	return &copied, nil
}

func (g *fakeGateway) GetProviderName() string { return "fake" }

func (g *fakeGateway) set(result *provider.ChargeResult) {
	g.mu.Lock()
	g.fallback = result
	g.mu.Unlock()
}

type sentNotification struct {
	Template       string
	SubscriptionID string
	Variables      map[string]string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
	fails int
}

func (n *fakeNotifier) Send(_ context.Context, template, subscriptionID string, variables map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails > 0 {
		n.fails--
		return errors.New("smtp unavailable")
	}
	n.sent = append(n.sent, sentNotification{Template: template, SubscriptionID: subscriptionID, Variables: variables})
	return nil
}

func (n *fakeNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Template)
	}
	return out
}

type fakeAccess struct {
	mu          sync.Mutex
	suspends    int
	reactivates int
	suspended   bool
	fails       int
	// reactivateFails fails only Reactivate calls
	reactivateFails int
	// beforeSuspend runs ahead of the suspension taking effect
	beforeSuspend func()
}

func (a *fakeAccess) Suspend(context.Context, string) error {
	a.mu.Lock()
	hook := a.beforeSuspend
	a.beforeSuspend = nil
	a.mu.Unlock()
	if hook != nil {
		hook()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fails > 0 {
		a.fails--
		return errors.New("access service unavailable")
	}
	a.suspends++
	a.suspended = true
	return nil
}

func (a *fakeAccess) Reactivate(context.Context, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fails > 0 {
		a.fails--
		return errors.New("access service unavailable")
	}
	if a.reactivateFails > 0 {
		a.reactivateFails--
		return errors.New("access service unavailable")
	}
	a.reactivates++
	a.suspended = false
	return nil
}

func (a *fakeAccess) isSuspended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.suspended
}

// recordingMetrics counts calls for assertions
type recordingMetrics struct {
	noopMetrics
	mu          sync.Mutex
	started     int
	transitions []string
	outcomes    []string
	tasks       []string
	sweeps      []SweepReport
}

func (m *recordingMetrics) EpisodeStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *recordingMetrics) EpisodeTransitioned(from, to entity.EpisodeState) {
	m.mu.Lock()
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
	m.mu.Unlock()
}

func (m *recordingMetrics) RetryOutcome(outcome string) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) TaskOutcome(outcome string) {
	m.mu.Lock()
	m.tasks = append(m.tasks, outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) SweepCompleted(report SweepReport) {
	m.mu.Lock()
	m.sweeps = append(m.sweeps, report)
	m.mu.Unlock()
}
