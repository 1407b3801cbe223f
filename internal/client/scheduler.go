package client

import (
	"sync"
	"time"
)

// Scheduler owns every delayed and periodic task of a session: heartbeat,
// reconnect delay, save debounce, cursor debounce. Tasks are named;
// scheduling an existing name re-arms it, which is exactly debounce
// semantics. Task bodies never run on a timer goroutine: they are handed to
// the post function, which the owning session uses to put them on its event
// loop.
//
// StopAll cancels everything and bumps a generation counter, so a timer
// that already fired but has not yet delivered its task is discarded
// instead of resurrecting a torn-down session.
type Scheduler struct {
	mu      sync.Mutex
	post    func(func())
	gen     uint64
	nextID  uint64
	stopped bool
	timers  map[string]*namedTimer
	tickers map[string]chan struct{}
}

type namedTimer struct {
	timer *time.Timer
	id    uint64
}

func NewScheduler(post func(func())) *Scheduler {
	return &Scheduler{
		post:    post,
		timers:  make(map[string]*namedTimer),
		tickers: make(map[string]chan struct{}),
	}
}

// Schedule arms (or re-arms) a named one-shot task.
func (s *Scheduler) Schedule(name string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if existing, ok := s.timers[name]; ok {
		existing.timer.Stop()
	}

	s.nextID++
	id := s.nextID
	gen := s.gen
	s.timers[name] = &namedTimer{
		id:    id,
		timer: time.AfterFunc(delay, func() { s.deliverOnce(gen, name, id, fn) }),
	}
}

// Every starts a named periodic task. Re-issuing the name restarts the
// period from now.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if stop, ok := s.tickers[name]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	s.tickers[name] = stop
	gen := s.gen

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.deliverTick(gen, fn)
			case <-stop:
				return
			}
		}
	}()
}

// Cancel stops a named task if armed. Unknown names are a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[name]; ok {
		existing.timer.Stop()
		delete(s.timers, name)
	}
	if stop, ok := s.tickers[name]; ok {
		close(stop)
		delete(s.tickers, name)
	}
}

// Pending reports whether a named one-shot is currently armed.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// StopAll synchronously cancels every task and discards fires already in
// flight. The scheduler accepts no new work afterwards. Safe to call twice.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.gen++
	for name, existing := range s.timers {
		existing.timer.Stop()
		delete(s.timers, name)
	}
	for name, stop := range s.tickers {
		close(stop)
		delete(s.tickers, name)
	}
}

// deliverOnce hands a one-shot fire to the owner unless the task was
// superseded by a re-arm, cancelled, or the scheduler stopped after the
// timer left the gate.
func (s *Scheduler) deliverOnce(gen uint64, name string, id uint64, fn func()) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	current, ok := s.timers[name]
	if !ok || current.id != id {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	post := s.post
	s.mu.Unlock()

	post(fn)
}

func (s *Scheduler) deliverTick(gen uint64, fn func()) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	post := s.post
	s.mu.Unlock()

	post(fn)
}
