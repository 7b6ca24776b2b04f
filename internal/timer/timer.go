// Package timer provides the one-shot named timer primitive the runtime
// schedules against. Exactly one live timer exists per key; setting an
// existing key replaces it, cancelling an absent key is a no-op, and a
// cancelled timer never delivers its firing, even when the cancel races
// the firing itself.
package timer

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Key namespaces. Routing a firing to the right handler family is done
// purely by inspecting this prefix.
const (
	PrefixCron  = "cron"
	PrefixRetry = "retry"
	PrefixPoll  = "poll"
)

// CronKey names a cron's next-firing timer.
func CronKey(ns, name string) string { return PrefixCron + "/" + ns + "/" + name }

// RetryKey names a queue item's retry-cooldown timer.
func RetryKey(ns, queue, item string) string {
	return PrefixRetry + "/" + ns + "/" + queue + "/" + item
}

// PollKey names a worker's poll timer.
func PollKey(ns, worker string) string { return PrefixPoll + "/" + ns + "/" + worker }

// Split returns the key's namespace prefix and the remaining fields.
func Split(key string) (prefix string, fields []string) {
	parts := strings.Split(key, "/")
	if len(parts) < 2 {
		return "", nil
	}
	return parts[0], parts[1:]
}

type entry struct {
	t   *time.Timer
	gen uint64
}

// Service arms and cancels named one-shot timers. Firings are delivered
// through the fire callback on a timer goroutine; the callback must not
// block for long.
type Service struct {
	mu     sync.Mutex
	live   map[string]*entry
	gen    uint64
	fire   func(key string)
	logger *slog.Logger
}

// New creates a Service delivering firings to fire.
func New(fire func(key string), logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		live:   make(map[string]*entry),
		fire:   fire,
		logger: logger,
	}
}

// Set arms the timer under key, replacing any live timer with the same key.
func (s *Service) Set(key string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.live[key]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{gen: gen}
	e.t = time.AfterFunc(d, func() { s.fired(key, gen) })
	s.live[key] = e
}

// Cancel stops the timer under key. Cancelling an absent key is a no-op.
func (s *Service) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live[key]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(s.live, key)
	return true
}

// Len returns the number of live timers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Stop cancels every live timer.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.live {
		e.t.Stop()
		delete(s.live, key)
	}
}

// fired resolves the firing-vs-cancel race: the firing is delivered only
// if the key is still live and still belongs to this generation. A timer
// replaced by Set, or removed by Cancel, stays silent.
func (s *Service) fired(key string, gen uint64) {
	s.mu.Lock()
	e, ok := s.live[key]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.live, key)
	s.mu.Unlock()

	s.fire(key)
}
