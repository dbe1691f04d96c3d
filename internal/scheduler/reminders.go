package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/feeledger/internal/locking"
	obsmetrics "github.com/smallbiznis/feeledger/internal/observability/metrics"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/reminder"
	"go.uber.org/zap"
)

// PaymentRemindersJob nudges every student whose pending dues reach the
// configured minimum. With redis configured each student is reminded at most
// once per school day.
func (s *Scheduler) PaymentRemindersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobPaymentReminders, 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	ctx = s.withLogContext(ctx, s.schoolID)

	fees := s.fees.Get()
	today := period.Today(s.clock.Now(), fees.Location())
	minPending := s.cfg.ReminderMinPending
	if fees.ReminderMinPending > minPending {
		minPending = fees.ReminderMinPending
	}

	balances, err := s.ledgerSvc.StudentsWithPending(ctx, s.schoolID, minPending)
	if err != nil {
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	sent := 0
	for _, balance := range balances {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		key := locking.ReminderKey(s.schoolID, balance.StudentID, today)
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.RunInterval)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.reminder.lock_failed", s.schoolID, err,
				zap.String("student_id", idString(balance.StudentID)))
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if !ok {
			schedMetrics.IncBatchSkipped(jobPaymentReminders, obsmetrics.SchedulerBatchSkippedReasonDeduped)
			continue
		}

		err = s.dispatcher.SendPaymentReminder(ctx, reminder.Reminder{
			SchoolID:     s.schoolID,
			StudentID:    balance.StudentID,
			ClassID:      balance.ClassID,
			TotalPending: balance.TotalPending,
			Records:      balance.Records,
		})
		if err != nil {
			// Free the slot so the next run retries this student.
			_ = s.locker.Release(ctx, key, token)
			s.logSchedulerError(ctx, run, "scheduler.reminder.dispatch_failed", s.schoolID, err,
				zap.String("student_id", idString(balance.StudentID)))
			jobErr = errors.Join(jobErr, err)
			continue
		}
		sent++
	}

	run.AddProcessed(sent)
	schedMetrics.AddBatchProcessed(jobPaymentReminders, "student", sent)
	return jobErr
}
