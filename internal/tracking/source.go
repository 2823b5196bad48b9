package tracking

import (
	"context"
	"sync"
	"time"
)

// Source is a position-sensing capability.
type Source interface {
	Watch(ctx context.Context, opts WatchOptions) (Subscription, error)
}

// Subscription delivers readings in source order until Unsubscribe. A source that
// ends the subscription on its own closes the Readings channel.
type Subscription interface {
	Readings() <-chan Reading
	Unsubscribe()
}

// PushSource is a Source fed by callers, typically HTTP handlers relaying device fixes.
// It serves one subscription at a time; a new Watch replaces the previous one.
type PushSource struct {
	mu  sync.Mutex
	sub *pushSubscription
	now func() time.Time
}

func NewPushSource() *PushSource {
	return &PushSource{now: time.Now}
}

func (p *PushSource) Watch(ctx context.Context, opts WatchOptions) (Subscription, error) {
	sub := &pushSubscription{
		readings: make(chan Reading, 64),
		done:     make(chan struct{}),
		opts:     opts,
	}
	if opts.Timeout > 0 {
		// assign before arming: timedOut resets the timer through the field
		sub.timer = time.AfterFunc(time.Hour, sub.timedOut)
		sub.timer.Stop()
		sub.timer.Reset(opts.Timeout)
	}

	p.mu.Lock()
	prev := p.sub
	p.sub = sub
	p.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Watching reports whether a subscription is currently open.
func (p *PushSource) Watching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil && !p.sub.closed()
}

// Push delivers samples to the open subscription. Samples older than the watch's
// MaximumAge are dropped and counted. A zero timestamp is stamped with the current time.
func (p *PushSource) Push(ctx context.Context, samples ...GeoSample) (delivered, stale int, err error) {
	sub, err := p.current()
	if err != nil {
		return 0, 0, err
	}

	now := p.now()
	for _, s := range samples {
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		if sub.opts.MaximumAge > 0 && now.Sub(s.Timestamp) > sub.opts.MaximumAge {
			stale++
			continue
		}
		if err := sub.send(ctx, Reading{Sample: s}); err != nil {
			return delivered, stale, err
		}
		delivered++
	}
	return delivered, stale, nil
}

// Fail reports a source failure to the open subscription.
func (p *PushSource) Fail(ctx context.Context, cause error) error {
	sub, err := p.current()
	if err != nil {
		return err
	}
	return sub.send(ctx, Reading{Err: cause})
}

func (p *PushSource) current() (*pushSubscription, error) {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	if sub == nil || sub.closed() {
		return nil, ErrNotWatching
	}
	return sub, nil
}

type pushSubscription struct {
	readings chan Reading
	done     chan struct{}
	once     sync.Once
	opts     WatchOptions
	timer    *time.Timer

	mu       sync.Mutex
	inflight sync.WaitGroup
}

func (s *pushSubscription) Readings() <-chan Reading { return s.readings }

// Unsubscribe ends delivery. When it returns, every send that reported success
// has its reading in the channel buffer and no further send can succeed.
func (s *pushSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
	})
	s.inflight.Wait()
}

func (s *pushSubscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *pushSubscription) send(ctx context.Context, r Reading) error {
	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		return ErrNotWatching
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case s.readings <- r:
		if r.Err == nil {
			s.resetTimer()
		}
		return nil
	case <-s.done:
		return ErrNotWatching
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pushSubscription) resetTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil && !s.closed() {
		s.timer.Reset(s.opts.Timeout)
	}
}

func (s *pushSubscription) timedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return
	}
	select {
	case s.readings <- Reading{Err: ErrSourceTimeout}:
	default:
	}
	s.timer.Reset(s.opts.Timeout)
}
