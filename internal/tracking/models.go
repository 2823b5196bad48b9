package tracking

import (
	"time"

	"backend-runtrack/internal/shared/geo"
)

// GeoSample is one raw location report from a position source.
type GeoSample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s GeoSample) LatLng() geo.LatLng {
	return geo.LatLng{Lat: s.Lat, Lng: s.Lng}
}

// Reading is one item delivered by a Subscription: either a sample or a source failure.
type Reading struct {
	Sample GeoSample
	Err    error
}

type WatchOptions struct {
	HighAccuracy bool          `json:"high_accuracy"`
	MaximumAge   time.Duration `json:"maximum_age"`
	Timeout      time.Duration `json:"timeout"`
}

// Owner identifies who started a run and the bearer token used to persist it.
type Owner struct {
	UserID string
	Token  string
}

type SessionInfo struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id,omitempty"`
	StartTime time.Time    `json:"start_time"`
	State     State        `json:"state"`
	Watch     WatchOptions `json:"watch"`
}

type Snapshot struct {
	State      State                `json:"state"`
	SessionID  string               `json:"session_id,omitempty"`
	UserID     string               `json:"user_id,omitempty"`
	StartTime  *time.Time           `json:"start_time,omitempty"`
	PointCount int                  `json:"point_count"`
	Rejected   map[RejectReason]int `json:"rejected,omitempty"`
	// SourceClosed means the position source ended the subscription; no more
	// samples will arrive and the run has to be stopped.
	SourceClosed bool         `json:"source_closed,omitempty"`
	Stats        *Stats       `json:"stats,omitempty"`
	Watch        WatchOptions `json:"watch"`
}

// SavedRun is the persistence collaborator's echo of a stored run.
type SavedRun struct {
	DistanceM    float64  `json:"distance_m"`
	DurationMs   int64    `json:"duration_ms"`
	PaceSecPerKm *float64 `json:"pace_sec_per_km,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeSaved        OutcomeStatus = "saved"
	OutcomeInsufficient OutcomeStatus = "insufficient"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeAborted      OutcomeStatus = "aborted"
)

type Outcome struct {
	SessionID  string        `json:"session_id"`
	UserID     string        `json:"user_id,omitempty"`
	Status     OutcomeStatus `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	PointCount int           `json:"point_count"`
	Rejected   int           `json:"rejected"`
	DistanceM  float64       `json:"distance_m"`
	Saved      *SavedRun     `json:"saved,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventPointAccepted  EventType = "point_accepted"
	EventSampleRejected EventType = "sample_rejected"
	EventSourceError    EventType = "source_error"
	EventStats          EventType = "stats"
	EventRunFinished    EventType = "run_finished"
)

// Event is what the tracker reports to observers (view, journal, metrics).
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id,omitempty"`
	At        time.Time    `json:"at"`
	Point     *GeoSample   `json:"point,omitempty"`
	Seq       int          `json:"seq,omitempty"`
	First     bool         `json:"first,omitempty"`
	Reason    RejectReason `json:"reason,omitempty"`
	JumpM     float64      `json:"jump_m,omitempty"`
	Error     string       `json:"error,omitempty"`
	Stats     *Stats       `json:"stats,omitempty"`
	Outcome   *Outcome     `json:"outcome,omitempty"`
}

type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to each non-nil observer in order.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}
