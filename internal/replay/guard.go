// Package replay records one-time values (login states) so that a second
// attempt to use the same value is detected.
package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/nimbus/internal/log"
)

// Guard claims keys for a limited time. Claim reports true only for the first
// caller of a key within ttl.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryGuard is a process-local Guard with a background sweeper for
// expired claims
type MemoryGuard struct {
	mu       sync.Mutex
	claims   map[string]time.Time // key -> expiry
	now      func() time.Time
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

var _ Guard = (*MemoryGuard)(nil)

// NewMemoryGuard creates a guard that sweeps expired claims every interval
// once Start is called
func NewMemoryGuard(interval time.Duration) *MemoryGuard {
	return &MemoryGuard{
		claims:   make(map[string]time.Time),
		now:      time.Now,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claims[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of live and not yet swept claims
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

// Start begins the sweep loop in a goroutine
func (g *MemoryGuard) Start(ctx context.Context) {
	log.LogDebugWithFields("replay", "Starting claim sweeper", map[string]any{
		"interval": g.interval.String(),
	})
	if !g.started.CompareAndSwap(false, true) {
		return
	}
	go g.run(ctx)
}

// Stop stops the sweep loop and waits for it to exit. It is a no-op when
// the loop never started.
func (g *MemoryGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopChan)
		if g.started.Load() {
			<-g.doneChan
		}
	})
}

func (g *MemoryGuard) run(ctx context.Context) {
	defer close(g.doneChan)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep drops expired claims and returns how many were removed
func (g *MemoryGuard) sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	count := 0
	for key, exp := range g.claims {
		if !now.Before(exp) {
			delete(g.claims, key)
			count++
		}
	}
	if count > 0 {
		log.LogTraceWithFields("replay", "Swept expired claims", map[string]any{
			"count": count,
		})
	}
	return count
}
