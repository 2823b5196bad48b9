package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-runtrack/internal/db"
	"backend-runtrack/internal/shared/geo"
	"backend-runtrack/internal/tracking"

	"github.com/jackc/pgx/v5"
)

var (
	ErrSessionNotFound = errors.New("journal session not found")
	ErrClosed          = errors.New("journal closed")
)

const writeTimeout = 5 * time.Second

// Service keeps a local log of every run the tracker drives. Tracker events are
// queued and written by a single worker so a slow database never stalls sampling.
type Service struct {
	db               db.Querier
	minPaceDistanceM float64

	mu      sync.Mutex
	closed  bool
	jobs    chan tracking.Event
	done    chan struct{}
	dropped int
}

func NewService(q db.Querier, buffer int, minPaceDistanceM float64) *Service {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &Service{
		db:               q,
		minPaceDistanceM: minPaceDistanceM,
		jobs:             make(chan tracking.Event, buffer),
		done:             make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

// Observe queues events worth journaling. When the queue is full the event is
// dropped and counted.
func (s *Service) Observe(ev tracking.Event) {
	switch ev.Type {
	case tracking.EventRunStarted, tracking.EventPointAccepted, tracking.EventSampleRejected, tracking.EventRunFinished:
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- ev:
	default:
		s.dropped++
		slog.Warn("journal queue full, event dropped", "type", ev.Type, "session_id", ev.SessionID, "dropped", s.dropped)
	}
}

// Close stops accepting events and waits for queued writes to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.done
}

func (s *Service) worker() {
	defer close(s.done)
	for ev := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.apply(ctx, ev); err != nil {
			slog.Warn("journal write failed", "type", ev.Type, "session_id", ev.SessionID, "error", err)
		}
		cancel()
	}
}

func (s *Service) apply(ctx context.Context, ev tracking.Event) error {
	switch ev.Type {
	case tracking.EventRunStarted:
		return s.StartSession(ctx, ev.SessionID, ev.UserID, ev.At)
	case tracking.EventPointAccepted:
		if ev.Point == nil {
			return nil
		}
		return s.AddPoint(ctx, ev.SessionID, ev.Seq, *ev.Point)
	case tracking.EventSampleRejected:
		return s.CountRejected(ctx, ev.SessionID)
	case tracking.EventRunFinished:
		if ev.Outcome == nil {
			return nil
		}
		return s.FinishSession(ctx, *ev.Outcome)
	}
	return nil
}

func (s *Service) StartSession(ctx context.Context, sessionID, userID string, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO run_sessions (id, user_id, started_at, status)
		VALUES ($1,$2,$3,'active')
		ON CONFLICT (id) DO NOTHING
	`, sessionID, userID, startedAt)
	return err
}

// AddPoint stores an accepted point and adds the leg from the previous point to the session distance.
func (s *Service) AddPoint(ctx context.Context, sessionID string, seq int, p tracking.GeoSample) error {
	var lastLat, lastLng float64
	hasLast := true
	err := s.db.QueryRow(ctx, `
		SELECT lat, lng FROM run_points
		WHERE session_id=$1
		ORDER BY seq DESC
		LIMIT 1
	`, sessionID).Scan(&lastLat, &lastLng)
	if errors.Is(err, pgx.ErrNoRows) {
		hasLast = false
	} else if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, `
		INSERT INTO run_points (session_id, seq, lat, lng, accuracy_m, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sessionID, seq, p.Lat, p.Lng, p.Accuracy, p.Timestamp); err != nil {
		return err
	}

	deltaM := 0.0
	if hasLast {
		deltaM = geo.Distance(geo.LatLng{Lat: lastLat, Lng: lastLng}, p.LatLng())
	}
	_, err = s.db.Exec(ctx, `
		UPDATE run_sessions
		SET point_count = point_count + 1,
		    distance_m = distance_m + $2
		WHERE id=$1
	`, sessionID, deltaM)
	return err
}

func (s *Service) CountRejected(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `UPDATE run_sessions SET rejected_count = rejected_count + 1 WHERE id=$1`, sessionID)
	return err
}

func (s *Service) FinishSession(ctx context.Context, outcome tracking.Outcome) error {
	var saved *float64
	if outcome.Saved != nil {
		d := outcome.Saved.DistanceM
		saved = &d
	}
	_, err := s.db.Exec(ctx, `
		UPDATE run_sessions
		SET ended_at=$2, status=$3, saved_distance_m=$4, error=$5
		WHERE id=$1
	`, outcome.SessionID, outcome.EndTime, string(outcome.Status), saved, outcome.Error)
	return err
}

func (s *Service) Summary(ctx context.Context, sessionID string) (Summary, error) {
	var session Session
	row := s.db.QueryRow(ctx, `
		SELECT id, started_at, ended_at, status, distance_m
		FROM run_sessions WHERE id=$1
	`, sessionID)
	if err := row.Scan(&session.ID, &session.StartedAt, &session.EndedAt, &session.Status, &session.DistanceM); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrSessionNotFound
		}
		return Summary{}, err
	}

	var pointCount int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM run_points WHERE session_id=$1`, sessionID).Scan(&pointCount); err != nil {
		return Summary{}, err
	}

	duration := time.Since(session.StartedAt)
	if session.EndedAt != nil {
		duration = session.EndedAt.Sub(session.StartedAt)
	}
	avgSpeed := 0.0
	if duration.Seconds() > 0 {
		avgSpeed = session.DistanceM / duration.Seconds()
	}

	return Summary{
		SessionID:     session.ID,
		Status:        session.Status,
		PointCount:    pointCount,
		DistanceM:     session.DistanceM,
		DurationSec:   int64(duration.Seconds()),
		AverageSpeedM: avgSpeed,
		Stats:         tracking.ComputeStats(duration, session.DistanceM, s.minPaceDistanceM),
	}, nil
}

func (s *Service) Points(ctx context.Context, sessionID string) ([]Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, seq, lat, lng, accuracy_m, recorded_at
		FROM run_points WHERE session_id=$1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []Point{}
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.SessionID, &p.Seq, &p.Lat, &p.Lng, &p.AccuracyM, &p.RecordedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Recent lists a user's journaled runs, newest first.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, started_at, ended_at, status, point_count, rejected_count, distance_m, saved_distance_m, error
		FROM run_sessions WHERE user_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.UserID, &ss.StartedAt, &ss.EndedAt, &ss.Status, &ss.PointCount, &ss.RejectedCount, &ss.DistanceM, &ss.SavedDistanceM, &ss.Error); err != nil {
			return nil, err
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}
