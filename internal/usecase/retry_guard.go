package usecase

import (
	"context"
	"sync"

	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
)

// RetryGuard ensures at most one retryPayment runs per subscription.
// Acquire fails with a RetryInFlight error when the guard is held elsewhere.
type RetryGuard interface {
	Acquire(ctx context.Context, subscriptionID string) (release func(), err error)
}

// LocalGuard is an in-process RetryGuard for single-instance deployments and tests.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard creates an empty in-process guard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, subscriptionID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[subscriptionID]; busy {
		return nil, domainErrors.RetryInFlight(subscriptionID)
	}
	g.held[subscriptionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, subscriptionID)
			g.mu.Unlock()
		})
	}, nil
}
