package decay

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs the decay manager on a fixed interval until stopped.
type Scheduler struct {
	manager *Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler wraps a manager in a periodic runner.
func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{manager: manager}
}

// Start launches the run loop. The first run happens after one full
// interval, not immediately, so process startup stays cheap.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.manager.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.manager.Run(ctx, false); err != nil {
					s.manager.logger.Printf("[decay] scheduled run failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()
	<-done
}
