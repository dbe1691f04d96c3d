// Package reminder hands payment reminders to the notification channel.
package reminder

import (
	"context"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/feeledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reminder",
	fx.Provide(
		fx.Annotate(NewLoggingDispatcher, fx.As(new(Dispatcher))),
	),
)

// Reminder is a nudge to a student with unpaid dues.
type Reminder struct {
	SchoolID     snowflake.ID
	StudentID    snowflake.ID
	ClassID      snowflake.ID
	TotalPending int64
	Records      int64
}

// Dispatcher delivers reminders. Delivery is fire-and-forget: a failure is
// reported but never rolls back ledger state.
type Dispatcher interface {
	SendPaymentReminder(ctx context.Context, r Reminder) error
}

// LoggingDispatcher writes reminders to the log. It stands in for an SMS or
// email channel.
type LoggingDispatcher struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

type DispatcherParams struct {
	fx.In

	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewLoggingDispatcher(p DispatcherParams) *LoggingDispatcher {
	return &LoggingDispatcher{log: p.Log.Named("reminder"), metrics: p.Metrics}
}

func (d *LoggingDispatcher) SendPaymentReminder(ctx context.Context, r Reminder) error {
	d.log.Info("payment reminder",
		zap.String("school_id", r.SchoolID.String()),
		zap.String("student_id", r.StudentID.String()),
		zap.Int64("total_pending", r.TotalPending),
		zap.Int64("records", r.Records),
	)
	d.metrics.RecordReminder("sent")
	return nil
}

var _ Dispatcher = (*LoggingDispatcher)(nil)
