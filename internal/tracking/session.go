package tracking

import (
	"fmt"
	"time"

	"backend-runtrack/internal/shared/geo"
)

type State int

const (
	StateIdle State = iota
	StateActive
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "active":
		*s = StateActive
	case "finalizing":
		*s = StateFinalizing
	default:
		return fmt.Errorf("unknown run state %q", b)
	}
	return nil
}

// Session is the state of one run between Start and Stop.
type Session struct {
	ID        string
	Owner     Owner
	StartTime time.Time
	Points    []GeoSample
	Rejected  map[RejectReason]int

	last         *GeoSample
	distance     geo.Accumulator
	sourceClosed bool
}

func newSession(id string, owner Owner, start time.Time) *Session {
	return &Session{
		ID:        id,
		Owner:     owner,
		StartTime: start,
		Rejected:  map[RejectReason]int{},
	}
}

// LastAccepted returns the most recently accepted sample, or nil before the first one.
func (s *Session) LastAccepted() *GeoSample {
	return s.last
}

// accept appends p and returns its index in the point sequence.
func (s *Session) accept(p GeoSample) int {
	s.Points = append(s.Points, p)
	last := p
	s.last = &last
	s.distance.Add(p.LatLng())
	return len(s.Points) - 1
}

func (s *Session) reject(reason RejectReason) {
	s.Rejected[reason]++
}

func (s *Session) RejectedTotal() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

// DistanceM is the running haversine total over the accepted points.
func (s *Session) DistanceM() float64 {
	return s.distance.Total()
}

func (s *Session) Track() []geo.LatLng {
	track := make([]geo.LatLng, len(s.Points))
	for i, p := range s.Points {
		track[i] = p.LatLng()
	}
	return track
}

// Recompute derives the display stats for s at now.
func Recompute(s *Session, now time.Time, minPaceDistanceM float64) Stats {
	return ComputeStats(now.Sub(s.StartTime), s.DistanceM(), minPaceDistanceM)
}
