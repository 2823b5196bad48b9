package tracking

import (
	"fmt"
	"math"
	"time"
)

// PaceUndefined is shown while the distance is too short for a stable pace.
const PaceUndefined = "--"

type Stats struct {
	Clock         string  `json:"clock"`
	DistanceLabel string  `json:"distance"`
	Pace          string  `json:"pace"`
	ElapsedMs     int64   `json:"elapsed_ms"`
	DistanceM     float64 `json:"distance_m"`
	PaceSecPerKm  float64 `json:"pace_sec_per_km,omitempty"`
}

func ComputeStats(elapsed time.Duration, distanceM, minPaceDistanceM float64) Stats {
	ms := elapsed.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if distanceM < 0 {
		distanceM = 0
	}

	st := Stats{
		Clock:         FormatClock(ms),
		DistanceLabel: FormatDistance(distanceM),
		Pace:          PaceUndefined,
		ElapsedMs:     ms,
		DistanceM:     distanceM,
	}
	if distanceM < minPaceDistanceM || distanceM <= 0 {
		return st
	}

	st.PaceSecPerKm = (float64(ms) / 1000) / (distanceM / 1000)
	st.Pace = FormatPace(st.PaceSecPerKm)
	return st
}

// FormatClock renders whole elapsed seconds as M:SS. Minutes never roll into hours.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func FormatDistance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%d m", int64(m))
	}
	return fmt.Sprintf("%.2f km", m/1000)
}

func FormatPace(secPerKm float64) string {
	if secPerKm <= 0 || math.IsInf(secPerKm, 0) || math.IsNaN(secPerKm) {
		return PaceUndefined
	}
	minutes := int64(math.Floor(secPerKm / 60))
	seconds := int64(math.Round(secPerKm - float64(minutes)*60))
	if seconds == 60 {
		minutes++
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
