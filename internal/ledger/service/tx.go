package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/pkg/db"
	"github.com/smallbiznis/feeledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txLedger struct {
	svc *Service
	tx  *gorm.DB
}

func (t *txLedger) OutstandingBefore(ctx context.Context, schoolID, studentID snowflake.ID, periodOrdinal int) ([]ledgerdomain.StudentFeeRecord, error) {
	return outstandingBefore(t.tx.WithContext(ctx), schoolID, studentID, periodOrdinal, false)
}

func (t *txLedger) LockOutstanding(ctx context.Context, schoolID, studentID snowflake.ID, periodOrdinal int) ([]ledgerdomain.StudentFeeRecord, error) {
	return outstandingBefore(t.tx.WithContext(ctx), schoolID, studentID, periodOrdinal, true)
}

func (t *txLedger) CategoryDue(ctx context.Context, schoolID, studentID, categoryID snowflake.ID, scope string, periodOrdinal int) (bool, error) {
	if schoolID == 0 {
		return false, ledgerdomain.ErrInvalidSchool
	}
	q := t.tx.WithContext(ctx)
	claim := ledgerdomain.CategoryCharge{
		SchoolID:      schoolID,
		StudentID:     studentID,
		CategoryID:    categoryID,
		Scope:         scope,
		PeriodOrdinal: periodOrdinal,
		CreatedAt:     t.svc.clock.Now().UTC(),
	}
	// A concurrent claim blocks on the key until its transaction ends.
	if err := q.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim).Error; err != nil {
		return false, feeerr.Wrap(err, "claim category charge")
	}
	owner, found, err := categoryOwner(q, schoolID, studentID, categoryID, scope)
	if err != nil {
		return false, err
	}
	if !found {
		return false, feeerr.Conflict("category_charge_claim_lost", "category charge claim not visible after insert", nil)
	}
	return owner == periodOrdinal, nil
}

func (t *txLedger) InsertCharge(ctx context.Context, rec ledgerdomain.NewRecord, billID snowflake.ID) (ledgerdomain.StudentFeeRecord, bool, error) {
	if rec.SchoolID == 0 {
		return ledgerdomain.StudentFeeRecord{}, false, ledgerdomain.ErrInvalidSchool
	}
	if rec.Amount < 0 {
		return ledgerdomain.StudentFeeRecord{}, false, feeerr.Validation("invalid_amount", "amount", "charge amount must not be negative")
	}

	now := t.svc.clock.Now().UTC()
	record := ledgerdomain.StudentFeeRecord{
		ID:              t.svc.genID.Generate(),
		SchoolID:        rec.SchoolID,
		StudentID:       rec.StudentID,
		FeeStructureID:  rec.FeeStructureID,
		AcademicYear:    rec.AcademicYear,
		PeriodOrdinal:   rec.PeriodOrdinal,
		PeriodLabel:     rec.PeriodLabel,
		ClassID:         rec.ClassID,
		CategoryID:      rec.CategoryID,
		CategoryName:    rec.CategoryName,
		BaseAmount:      rec.Amount,
		TotalAmount:     rec.Amount,
		PendingAmount:   rec.Amount,
		DueDate:         rec.DueDate,
		GracePeriodDays: rec.GraceDays,
		PenaltyType:     rec.PenaltyType,
		PenaltyValue:    rec.PenaltyValue,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	res := t.tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return ledgerdomain.StudentFeeRecord{}, false, feeerr.Wrap(res.Error, "insert fee record")
	}
	if res.RowsAffected == 0 {
		var existing ledgerdomain.StudentFeeRecord
		err := t.tx.WithContext(ctx).
			Where("school_id = ? AND student_id = ? AND fee_structure_id = ? AND academic_year = ? AND period_ordinal = ?",
				rec.SchoolID, rec.StudentID, rec.FeeStructureID, rec.AcademicYear, rec.PeriodOrdinal).
			Take(&existing).Error
		if err != nil {
			return ledgerdomain.StudentFeeRecord{}, false, feeerr.Wrap(err, "load existing fee record")
		}
		return existing, false, nil
	}

	if err := t.appendTransaction(ctx, record, ledgerdomain.TransactionKindCharge, record.BaseAmount,
		fmt.Sprintf("charge:%s", record.ID), billID, now); err != nil {
		return ledgerdomain.StudentFeeRecord{}, false, err
	}
	return record, true, nil
}

func (t *txLedger) ApplyLateFee(ctx context.Context, record ledgerdomain.StudentFeeRecord, penalty int64, billID snowflake.ID) (ledgerdomain.StudentFeeRecord, error) {
	if penalty <= 0 {
		return ledgerdomain.StudentFeeRecord{}, ledgerdomain.ErrInvalidPenalty
	}
	if record.AppliedPenalty {
		return ledgerdomain.StudentFeeRecord{}, ledgerdomain.ErrPenaltyAlreadyTaken
	}

	now := t.svc.clock.Now().UTC()
	total := record.TotalAmount + penalty
	pending := ledgerdomain.Pending(total, record.PaidAmount)

	res := t.tx.WithContext(ctx).Exec(
		`UPDATE student_fee_records
		SET late_fee_amount = late_fee_amount + ?, total_amount = total_amount + ?, pending_amount = ?,
			applied_penalty = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND applied_penalty = ?`,
		penalty, penalty, pending, true, now, record.ID, record.Version, false,
	)
	if res.Error != nil {
		return ledgerdomain.StudentFeeRecord{}, feeerr.Wrap(res.Error, "apply late fee")
	}
	if res.RowsAffected == 0 {
		return ledgerdomain.StudentFeeRecord{}, ledgerdomain.ErrVersionMismatch
	}

	record.LateFeeAmount += penalty
	record.TotalAmount = total
	record.PendingAmount = pending
	record.AppliedPenalty = true
	record.Version++
	record.UpdatedAt = now

	if err := t.appendTransaction(ctx, record, ledgerdomain.TransactionKindLateFee, penalty,
		fmt.Sprintf("late_fee:%s", record.ID), billID, now); err != nil {
		return ledgerdomain.StudentFeeRecord{}, err
	}

	t.svc.obsMetrics.RecordPenalty(string(record.PenaltyType))
	t.svc.log.Debug("late fee applied",
		zap.String("record_id", record.ID.String()),
		zap.Int64("penalty", penalty),
		zap.String("bill_id", billID.String()),
	)
	return record, nil
}

func (t *txLedger) appendTransaction(
	ctx context.Context,
	record ledgerdomain.StudentFeeRecord,
	kind ledgerdomain.TransactionKind,
	amount int64,
	reference string,
	billID snowflake.ID,
	occurredAt time.Time,
) error {
	txn := ledgerdomain.FeeTransaction{
		ID:         t.svc.genID.Generate(),
		SchoolID:   record.SchoolID,
		RecordID:   record.ID,
		StudentID:  record.StudentID,
		Kind:       kind,
		Amount:     amount,
		Reference:  reference,
		BillID:     billID,
		Metadata:   datatypes.JSONMap(correlation.Metadata(ctx)),
		OccurredAt: occurredAt,
		CreatedAt:  occurredAt,
	}
	if err := t.tx.WithContext(ctx).Create(&txn).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return feeerr.Conflict("duplicate_transaction", "fee transaction already recorded", err)
		}
		return feeerr.Wrap(err, "append fee transaction")
	}
	return nil
}
