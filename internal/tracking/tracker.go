package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister stores a finished run with the owner's bearer token.
type Persister interface {
	SaveRun(ctx context.Context, token string, rec RunRecord) (SavedRun, error)
}

type Config struct {
	Thresholds       Thresholds
	MinPaceDistanceM float64
	TickInterval     time.Duration
	Watch            WatchOptions
	Record           RecordOptions
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       DefaultThresholds(),
		MinPaceDistanceM: 50,
		TickInterval:     500 * time.Millisecond,
		Watch:            WatchOptions{HighAccuracy: true},
		Record:           RecordOptions{RetainAccuracy: true, RetainTimestamps: true},
	}
}

// Tracker owns the single run session of the process and drives it through
// Idle -> Active -> Finalizing -> Idle.
type Tracker struct {
	cfg       Config
	validator Validator
	source    Source
	persister Persister
	observer  Observer
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	state    State
	session  *Session
	draining bool
	sub      Subscription
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewTracker(cfg Config, source Source, persister Persister, observer Observer) *Tracker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if observer == nil {
		observer = Observers(nil)
	}
	return &Tracker{
		cfg:       cfg,
		validator: NewValidator(cfg.Thresholds),
		source:    source,
		persister: persister,
		observer:  observer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (t *Tracker) Start(ctx context.Context, owner Owner) (SessionInfo, error) {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return SessionInfo{}, ErrAlreadyActive
	}
	if t.source == nil {
		t.mu.Unlock()
		return SessionInfo{}, ErrNoPositionSource
	}

	// the run outlives the request that started it
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := t.source.Watch(loopCtx, t.cfg.Watch)
	if err != nil {
		cancel()
		t.mu.Unlock()
		slog.Warn("position source watch failed", "error", err)
		return SessionInfo{}, ErrNoPositionSource
	}

	session := newSession(t.newID(), owner, t.now())
	done := make(chan struct{})
	t.state = StateActive
	t.session = session
	t.sub = sub
	t.cancel = cancel
	t.done = done
	info := t.infoLocked()
	t.mu.Unlock()

	go t.loop(loopCtx, session, sub.Readings(), done)

	slog.Info("run started", "session_id", session.ID, "user_id", owner.UserID)
	t.observer.Observe(Event{Type: EventRunStarted, SessionID: session.ID, UserID: owner.UserID, At: session.StartTime})
	return info, nil
}

// Stop ends the active run. The subscription and ticker are released before Stop
// returns on every path. Readings the source already delivered are applied first.
// Runs with fewer than two points are discarded with ErrInsufficientSamples;
// otherwise the record is persisted once, without retry.
func (t *Tracker) Stop(ctx context.Context, userID string) (Outcome, error) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return Outcome{}, ErrNotActive
	}
	session := t.session
	if session.Owner.UserID != "" && userID != session.Owner.UserID {
		t.mu.Unlock()
		return Outcome{}, ErrNotOwner
	}

	end := t.now()
	t.state = StateFinalizing
	t.draining = true
	t.releaseLocked()
	t.draining = false

	insufficient := len(session.Points) < 2
	if insufficient {
		t.state = StateIdle
		t.session = nil
	}
	t.mu.Unlock()

	outcome := newOutcome(session, end)
	if insufficient {
		outcome.Status = OutcomeInsufficient
		outcome.Error = ErrInsufficientSamples.Error()
		t.finish(outcome)
		return outcome, ErrInsufficientSamples
	}

	rec := BuildRecord(session, end, t.cfg.Record)
	var saved SavedRun
	var err error
	if t.persister == nil {
		err = ErrPersistence
	} else {
		saved, err = t.persister.SaveRun(ctx, session.Owner.Token, rec)
	}

	t.mu.Lock()
	t.state = StateIdle
	t.session = nil
	t.mu.Unlock()

	if err != nil {
		perr := newPersistenceError(err)
		outcome.Status = OutcomeFailed
		outcome.Error = perr.Error()
		slog.Warn("run persistence failed", "session_id", session.ID, "error", err)
		t.finish(outcome)
		return outcome, perr
	}

	outcome.Status = OutcomeSaved
	outcome.Saved = &saved
	t.finish(outcome)
	return outcome, nil
}

// Abort drops the active run without producing a record. It is a no-op when idle.
func (t *Tracker) Abort() {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	session := t.session
	t.state = StateIdle
	t.session = nil
	t.releaseLocked()
	t.mu.Unlock()

	outcome := newOutcome(session, t.now())
	outcome.Status = OutcomeAborted
	t.finish(outcome)
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Recompute returns the live stats of the active run.
func (t *Tracker) Recompute() (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil || t.state != StateActive {
		return Stats{}, ErrNotActive
	}
	return Recompute(t.session, t.now(), t.cfg.MinPaceDistanceM), nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{State: t.state, Watch: t.cfg.Watch}
	if t.session == nil {
		return snap
	}
	start := t.session.StartTime
	snap.SessionID = t.session.ID
	snap.UserID = t.session.Owner.UserID
	snap.StartTime = &start
	snap.PointCount = len(t.session.Points)
	snap.SourceClosed = t.session.sourceClosed
	snap.Rejected = make(map[RejectReason]int, len(t.session.Rejected))
	for k, v := range t.session.Rejected {
		snap.Rejected[k] = v
	}
	if t.state == StateActive {
		st := Recompute(t.session, t.now(), t.cfg.MinPaceDistanceM)
		snap.Stats = &st
	}
	return snap
}

// Track returns a copy of the accepted points of the current run.
func (t *Tracker) Track() (string, []GeoSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return "", nil
	}
	points := make([]GeoSample, len(t.session.Points))
	copy(points, t.session.Points)
	return t.session.ID, points
}

func (t *Tracker) loop(ctx context.Context, session *Session, readings <-chan Reading, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.drain(session, readings)
			return
		case r, ok := <-readings:
			if !ok {
				readings = nil
				r = Reading{Err: ErrSourceClosed}
			}
			t.handle(session, r)
		case <-ticker.C:
			t.tick(session)
		}
	}
}

// drain applies readings left in the buffer once the subscription is closed.
func (t *Tracker) drain(session *Session, readings <-chan Reading) {
	for {
		select {
		case r, ok := <-readings:
			if !ok {
				return
			}
			t.handle(session, r)
		default:
			return
		}
	}
}

func (t *Tracker) handle(session *Session, r Reading) {
	t.mu.Lock()
	if t.session != session || (t.state != StateActive && !t.draining) {
		t.mu.Unlock()
		return
	}
	ev := Event{SessionID: session.ID, UserID: session.Owner.UserID, At: t.now()}

	switch {
	case r.Err != nil:
		ev.Type = EventSourceError
		ev.Error = r.Err.Error()
		if errors.Is(r.Err, ErrSourceClosed) {
			session.sourceClosed = true
		}
	default:
		verdict := t.validator.Check(r.Sample, session.LastAccepted())
		sample := r.Sample
		ev.Point = &sample
		ev.JumpM = verdict.JumpM
		if verdict.Accepted {
			ev.Type = EventPointAccepted
			ev.Seq = session.accept(sample)
			ev.First = ev.Seq == 0
		} else {
			ev.Type = EventSampleRejected
			ev.Reason = verdict.Reason
			session.reject(verdict.Reason)
		}
	}
	t.mu.Unlock()

	if ev.Type == EventSourceError {
		slog.Warn("position source error", "session_id", session.ID, "error", ev.Error)
	}
	t.observer.Observe(ev)
}

func (t *Tracker) tick(session *Session) {
	t.mu.Lock()
	if t.session != session || t.state != StateActive {
		t.mu.Unlock()
		return
	}
	now := t.now()
	st := Recompute(session, now, t.cfg.MinPaceDistanceM)
	t.mu.Unlock()

	t.observer.Observe(Event{Type: EventStats, SessionID: session.ID, UserID: session.Owner.UserID, At: now, Stats: &st})
}

// releaseLocked closes the subscription, then stops the loop and waits for it to
// exit. The loop drains what the source delivered before Unsubscribe returned.
// t.mu is released while waiting so the loop can apply those readings.
func (t *Tracker) releaseLocked() {
	cancel, sub, done := t.cancel, t.sub, t.done
	t.cancel, t.sub, t.done = nil, nil, nil
	t.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	t.mu.Lock()
}

func (t *Tracker) finish(outcome Outcome) {
	slog.Info("run finished", "session_id", outcome.SessionID, "status", outcome.Status, "points", outcome.PointCount, "distance_m", outcome.DistanceM)
	t.observer.Observe(Event{
		Type:      EventRunFinished,
		SessionID: outcome.SessionID,
		UserID:    outcome.UserID,
		At:        outcome.EndTime,
		Outcome:   &outcome,
	})
}

func (t *Tracker) infoLocked() SessionInfo {
	return SessionInfo{
		ID:        t.session.ID,
		UserID:    t.session.Owner.UserID,
		StartTime: t.session.StartTime,
		State:     t.state,
		Watch:     t.cfg.Watch,
	}
}

func newOutcome(s *Session, end time.Time) Outcome {
	return Outcome{
		SessionID:  s.ID,
		UserID:     s.Owner.UserID,
		StartTime:  s.StartTime,
		EndTime:    end,
		PointCount: len(s.Points),
		Rejected:   s.RejectedTotal(),
		DistanceM:  s.DistanceM(),
	}
}
