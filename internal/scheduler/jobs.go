package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/dissent/internal/audit"
	"github.com/aristath/dissent/internal/correlation"
)

// RefreshJob recomputes pairwise correlations and ships any new alerts to the
// audit sink.
type RefreshJob struct {
	Monitor *correlation.Monitor
	Sink    *audit.Sink
	Log     zerolog.Logger
}

// Name implements Job.
func (j *RefreshJob) Name() string { return "correlation_refresh" }

// Run implements Job.
func (j *RefreshJob) Run() error {
	result := j.Monitor.Refresh()

	alerts := j.Monitor.DrainAlerts()
	if len(alerts) > 0 && j.Sink != nil {
		j.Sink.RecordAlerts(alerts)
	}

	j.Log.Debug().
		Int("pairs", len(result)).
		Int("alerts", len(alerts)).
		Msg("Correlation refresh completed")
	return nil
}

// CleanupJob purges correlation history and alerts past the retention cutoff.
type CleanupJob struct {
	Monitor   *correlation.Monitor
	Retention time.Duration
	Log       zerolog.Logger
}

// Name implements Job.
func (j *CleanupJob) Name() string { return "correlation_cleanup" }

// Run implements Job.
func (j *CleanupJob) Run() error {
	j.Monitor.Cleanup(j.Retention)
	return nil
}
