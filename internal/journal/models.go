package journal

import (
	"time"

	"backend-runtrack/internal/tracking"
)

// Session is one journaled run as seen by this daemon, including runs the
// backend never stored.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Status         string     `json:"status"`
	PointCount     int        `json:"point_count"`
	RejectedCount  int        `json:"rejected_count"`
	DistanceM      float64    `json:"distance_m"`
	SavedDistanceM *float64   `json:"saved_distance_m,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type Point struct {
	SessionID  string    `json:"session_id"`
	Seq        int       `json:"seq"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  *float64  `json:"accuracy_m,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Summary struct {
	SessionID     string         `json:"session_id"`
	Status        string         `json:"status"`
	PointCount    int            `json:"point_count"`
	DistanceM     float64        `json:"distance_m"`
	DurationSec   int64          `json:"duration_sec"`
	AverageSpeedM float64        `json:"average_speed_mps"`
	Stats         tracking.Stats `json:"stats"`
}
