// ABOUTME: Fixed organizational cadences and the cron logger bridge
// ABOUTME: Each cadence fires one event and does nothing else

package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/2389/coven-hub/internal/events"
)

// Cadence names
const (
	DailyStandup  = "daily_standup"
	WeeklyReview  = "weekly_review"
	QualityCheck  = "quality_check"
	ConflictSweep = "conflict_sweep"
	ProgressCheck = "progress_check"
)

// Cadence binds a cron expression to the event it fires.
type Cadence struct {
	Name  string
	Spec  string
	Event events.Type
}

// DefaultCadences are evaluated in the scheduler's configured location.
var DefaultCadences = []Cadence{
	{Name: DailyStandup, Spec: "0 9 * * *", Event: events.DailyStandupTriggered},
	{Name: WeeklyReview, Spec: "0 14 * * 5", Event: events.WeeklyReviewTriggered},
	{Name: QualityCheck, Spec: "0 */2 * * *", Event: events.QualityCheckTriggered},
	{Name: ConflictSweep, Spec: "*/30 * * * *", Event: events.ConflictSweepTriggered},
	{Name: ProgressCheck, Spec: "0 * * * *", Event: events.ProgressCheckTriggered},
}

// Trigger is the payload of every cadence event.
type Trigger struct {
	Cadence string `json:"cadence"`
	Manual  bool   `json:"manual,omitempty"`
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
