package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/demandbill/domain"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/locking"
	"github.com/smallbiznis/feeledger/internal/observability/tracing"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	outcomeSuccess  = "success"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)

var errClaimLost = errors.New("demand bill claimed concurrently")

// lockedSource reads prior records through row locks so the penalties and
// back dues computed inside a generation cannot race a payment.
type lockedSource struct {
	ledgerdomain.Tx
}

func (l lockedSource) OutstandingBefore(ctx context.Context, schoolID, studentID snowflake.ID, periodOrdinal int) ([]ledgerdomain.StudentFeeRecord, error) {
	return l.Tx.LockOutstanding(ctx, schoolID, studentID, periodOrdinal)
}

func (s *Service) Generate(ctx context.Context, req domain.Request) ([]domain.DemandBillPreviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "demandbill.generate", requestAttrs(req)...)
	start := time.Now()

	t, err := s.resolveTarget(ctx, req)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	items, err := s.generate(ctx, t)
	s.obsMetrics.ObserveGeneration(t.scope, outcomeOf(err), time.Since(start))
	span.SetAttributes(attribute.Int("bills", len(items)))
	tracing.EndSpan(span, err)
	return items, err
}

func (s *Service) generate(ctx context.Context, t target) ([]domain.DemandBillPreviewItem, error) {
	if t.scope == "class" {
		key := locking.ClassGenerationKey(t.schoolID, t.classID, t.period.Label())
		token, ok, err := s.locker.TryLock(ctx, key, t.fees.GenerationLockTTL)
		if err != nil {
			s.log.Warn("class generation lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		} else if !ok {
			return nil, domain.ErrBatchInProgress
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("release class generation lock", zap.String("key", key), zap.Error(err))
				}
			}()
		}
	}

	workers := t.fees.GenerationWorkers
	if workers < 1 {
		workers = 1
	}

	items := make([]domain.DemandBillPreviewItem, len(t.students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, student := range t.students {
		i, student := i, student
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := s.generateOne(gctx, t, student)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("demand bills generated",
		zap.String("school_id", t.schoolID.String()),
		zap.String("class_id", t.classID.String()),
		zap.String("period", t.period.Label()),
		zap.Int("bills", len(items)),
	)
	return items, nil
}

// generateOne issues the bill of one student in a single transaction. A bill
// already issued for the period is returned unchanged.
func (s *Service) generateOne(ctx context.Context, t target, student roster.Student) (domain.DemandBillPreviewItem, error) {
	existing, found, err := findBill(ctx, s.db, t.schoolID, student.ID, t.period.Ordinal())
	if err != nil {
		return domain.DemandBillPreviewItem{}, err
	}
	if found {
		s.obsMetrics.RecordBillIssued(true)
		return existing.PreviewItem(), nil
	}

	// A started write always reaches commit or rollback.
	ctx = context.WithoutCancel(ctx)

	var issued domain.DemandBill
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.SetLocalLockTimeout(tx, t.fees.LockTimeout); err != nil {
			return feeerr.Wrap(err, "set lock timeout")
		}

		now := s.clock.Now().UTC()
		billID := s.genID.Generate()
		bill := domain.DemandBill{
			ID:              billID,
			SchoolID:        t.schoolID,
			BillNo:          "pending-" + billID.String(),
			StudentID:       student.ID,
			PeriodOrdinal:   t.period.Ordinal(),
			PeriodLabel:     t.period.Label(),
			AcademicYear:    t.year.Label(),
			ClassID:         student.ClassID,
			BillDate:        t.today,
			MonthLabel:      t.period.MonthLabel(),
			StudentName:     student.Name,
			FatherName:      student.FatherName,
			ClassName:       student.ClassName,
			RollNo:          student.RollNo,
			AdmissionNumber: student.AdmissionNumber,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		claimed, err := claimBill(ctx, tx, &bill)
		if err != nil {
			return err
		}
		if !claimed {
			return errClaimLost
		}

		ltx := s.ledger.WithTx(tx)
		comp, err := s.compose(ctx, lockedSource{ltx}, t, student)
		if err != nil {
			return err
		}

		for i, line := range comp.current {
			st := line.structure
			rec, _, err := ltx.InsertCharge(ctx, ledgerdomain.NewRecord{
				SchoolID:       t.schoolID,
				StudentID:      student.ID,
				ClassID:        student.ClassID,
				FeeStructureID: st.ID,
				CategoryID:     st.CategoryID,
				CategoryName:   st.Category.Name,
				AcademicYear:   t.year.Label(),
				PeriodOrdinal:  t.period.Ordinal(),
				PeriodLabel:    t.period.Label(),
				Amount:         line.amount,
				DueDate:        t.period.DueDate(st.DueDateDay),
				GraceDays:      st.LateFeeGraceDays,
				PenaltyType:    st.LateFeePenaltyType,
				PenaltyValue:   st.LateFeePenaltyValue,
			}, billID)
			if err != nil {
				return err
			}
			// An existing record keeps the amount it was charged with.
			comp.current[i].amount = rec.BaseAmount
			comp.current[i].recordID = rec.ID
		}

		for _, entry := range comp.backDues.Entries {
			if !entry.FreshPenalty() {
				continue
			}
			if _, err := ltx.ApplyLateFee(ctx, entry.Record, entry.Penalty, billID); err != nil {
				return err
			}
		}

		seq, err := nextSequence(ctx, tx, t.schoolID, now)
		if err != nil {
			return err
		}
		bill.BillNo = fmt.Sprintf("%s-%d-%06d", t.fees.BillNumberPrefix, t.year.StartYear, seq)

		lines := comp.lineItems()
		bill.TotalCurrentFees, bill.TotalBackDues, bill.GrandTotal = domain.Totals(lines)
		bill.Lines = s.billLines(comp, billID)

		if err := tx.WithContext(ctx).Model(&domain.DemandBill{}).Where("id = ?", billID).Updates(map[string]any{
			"bill_no":            bill.BillNo,
			"total_current_fees": bill.TotalCurrentFees,
			"total_back_dues":    bill.TotalBackDues,
			"grand_total":        bill.GrandTotal,
			"updated_at":         now,
		}).Error; err != nil {
			return feeerr.Wrap(err, "number demand bill")
		}
		if len(bill.Lines) > 0 {
			if err := tx.WithContext(ctx).Create(&bill.Lines).Error; err != nil {
				return feeerr.Wrap(err, "write demand bill lines")
			}
		}

		issued = bill
		return nil
	})
	if errors.Is(err, errClaimLost) {
		winner, found, loadErr := findBill(ctx, s.db, t.schoolID, student.ID, t.period.Ordinal())
		if loadErr != nil {
			return domain.DemandBillPreviewItem{}, loadErr
		}
		if !found {
			return domain.DemandBillPreviewItem{}, feeerr.Conflict("demand_bill_claim_lost", "demand bill claimed by a generation that did not commit", nil)
		}
		s.obsMetrics.RecordBillIssued(true)
		return winner.PreviewItem(), nil
	}
	if err != nil {
		s.log.Warn("demand bill generation failed",
			zap.String("student_id", student.ID.String()),
			zap.String("period", t.period.Label()),
			zap.Error(err),
		)
		return domain.DemandBillPreviewItem{}, err
	}

	s.obsMetrics.RecordBillIssued(false)
	s.log.Debug("demand bill issued",
		zap.String("bill_no", issued.BillNo),
		zap.String("student_id", student.ID.String()),
		zap.Int64("grand_total", issued.GrandTotal),
	)
	return issued.PreviewItem(), nil
}

func (s *Service) billLines(c composition, billID snowflake.ID) []domain.DemandBillLine {
	lines := make([]domain.DemandBillLine, 0, len(c.current)+len(c.backDues.Entries))
	for _, line := range c.current {
		lines = append(lines, domain.DemandBillLine{
			ID:           s.genID.Generate(),
			BillID:       billID,
			Position:     len(lines),
			CategoryName: line.structure.Category.Name,
			MonthsUpto:   line.monthsUpto,
			Amount:       line.amount,
			RecordID:     line.recordID,
		})
	}
	for _, entry := range c.backDues.Entries {
		lines = append(lines, domain.DemandBillLine{
			ID:           s.genID.Generate(),
			BillID:       billID,
			Position:     len(lines),
			CategoryName: entry.Label,
			MonthsUpto:   entry.Period.ShortLabel(),
			Amount:       entry.Amount,
			IsBackDue:    true,
			RecordID:     entry.RecordID,
		})
	}
	return lines
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, feeerr.ErrConflict):
		return outcomeConflict
	default:
		return outcomeError
	}
}
