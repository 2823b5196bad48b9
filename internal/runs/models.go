package runs

// Run is one stored run as listed by the backend.
type Run struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id,omitempty"`
	StartTime  int64   `json:"start_time"`
	DurationMs int64   `json:"duration_ms"`
	DistanceM  float64 `json:"distance_m"`
	CreatedAt  string  `json:"created_at,omitempty"`
}

type RankingEntry struct {
	Name   string  `json:"name"`
	TotalM float64 `json:"total_m"`
}
