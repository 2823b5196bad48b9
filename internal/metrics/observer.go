package metrics

import "backend-runtrack/internal/tracking"

// Observer turns tracker events into metric updates.
type Observer struct{}

func (Observer) Observe(ev tracking.Event) {
	switch ev.Type {
	case tracking.EventRunStarted:
		RunsStarted.Inc()
		RunsActive.Inc()
	case tracking.EventPointAccepted:
		PointsAccepted.Inc()
	case tracking.EventSampleRejected:
		SamplesRejected.WithLabelValues(string(ev.Reason)).Inc()
	case tracking.EventSourceError:
		SourceErrors.Inc()
	case tracking.EventRunFinished:
		RunsActive.Dec()
		if ev.Outcome == nil {
			return
		}
		RunsFinished.WithLabelValues(string(ev.Outcome.Status)).Inc()
		RunDistance.Observe(ev.Outcome.DistanceM)
		RunDuration.Observe(ev.Outcome.EndTime.Sub(ev.Outcome.StartTime).Seconds())
	}
}
