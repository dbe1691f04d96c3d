// Package backdue projects a student's unresolved prior records into the
// back-due lines of a new bill. It never writes the ledger.
package backdue

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/latefee"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/period"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("backdue",
	fx.Provide(NewResolver),
)

// Entry is one prior record carried into the target period.
type Entry struct {
	RecordID snowflake.ID
	Label    string
	Period   period.Period
	// Pending is the record's unpaid amount, already including any penalty
	// applied by an earlier bill.
	Pending int64
	// Penalty is a late fee owed but not yet folded into the record.
	Penalty int64
	Amount  int64

	Record ledgerdomain.StudentFeeRecord
}

// FreshPenalty reports whether the entry carries a penalty that still has to
// be written to the ledger.
func (e Entry) FreshPenalty() bool { return e.Penalty > 0 }

type Breakdown struct {
	Entries       []Entry
	TotalBackDues int64
}

type Resolver struct {
	log *zap.Logger
}

func NewResolver(log *zap.Logger) *Resolver {
	return &Resolver{log: log.Named("backdue.resolver")}
}

// Resolve reads the student's records before target from src and projects
// them as of today.
func (r *Resolver) Resolve(
	ctx context.Context,
	src ledgerdomain.RecordSource,
	schoolID, studentID snowflake.ID,
	target period.Period,
	today time.Time,
) (Breakdown, error) {
	records, err := src.OutstandingBefore(ctx, schoolID, studentID, target.Ordinal())
	if err != nil {
		return Breakdown{}, err
	}
	out := FromRecords(records, target, today)
	if len(out.Entries) > 0 {
		r.log.Debug("back dues resolved",
			zap.String("student_id", studentID.String()),
			zap.String("period", target.Label()),
			zap.Int("entries", len(out.Entries)),
			zap.Int64("total_back_dues", out.TotalBackDues),
		)
	}
	return out, nil
}

// FromRecords builds the breakdown from already loaded records. Records at or
// after target and fully paid records are ignored. Entries are ordered oldest
// first, then by category name, then by record id.
func FromRecords(records []ledgerdomain.StudentFeeRecord, target period.Period, today time.Time) Breakdown {
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		if rec.PeriodOrdinal >= target.Ordinal() || rec.PendingAmount <= 0 {
			continue
		}
		penalty := int64(0)
		if !rec.AppliedPenalty {
			penalty = latefee.Penalty(rec.LateFeeRule(), rec.BaseAmount, latefee.DaysLate(rec.DueDate, today))
		}
		entries = append(entries, Entry{
			RecordID: rec.ID,
			Label:    rec.CategoryName,
			Period:   period.FromOrdinal(rec.PeriodOrdinal),
			Pending:  rec.PendingAmount,
			Penalty:  penalty,
			Amount:   rec.PendingAmount + penalty,
			Record:   rec,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Period.Ordinal() != b.Period.Ordinal() {
			return a.Period.Ordinal() < b.Period.Ordinal()
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.RecordID < b.RecordID
	})

	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return Breakdown{Entries: entries, TotalBackDues: total}
}
