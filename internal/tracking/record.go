package tracking

import "time"

type RecordOptions struct {
	RetainAccuracy   bool
	RetainTimestamps bool
}

type RecordPoint struct {
	Lat float64  `json:"lat"`
	Lng float64  `json:"lng"`
	Acc *float64 `json:"acc,omitempty"`
	T   *int64   `json:"t,omitempty"`
}

// RunRecord is the payload sent to the persistence collaborator. Times are epoch milliseconds.
type RunRecord struct {
	StartTime int64         `json:"start_time"`
	EndTime   int64         `json:"end_time"`
	Points    []RecordPoint `json:"points"`
}

func BuildRecord(s *Session, end time.Time, opts RecordOptions) RunRecord {
	rec := RunRecord{
		StartTime: s.StartTime.UnixMilli(),
		EndTime:   end.UnixMilli(),
		Points:    make([]RecordPoint, 0, len(s.Points)),
	}
	for _, p := range s.Points {
		rp := RecordPoint{Lat: p.Lat, Lng: p.Lng}
		if opts.RetainAccuracy && p.Accuracy != nil {
			acc := *p.Accuracy
			rp.Acc = &acc
		}
		if opts.RetainTimestamps && !p.Timestamp.IsZero() {
			ts := p.Timestamp.UnixMilli()
			rp.T = &ts
		}
		rec.Points = append(rec.Points, rp)
	}
	return rec
}
