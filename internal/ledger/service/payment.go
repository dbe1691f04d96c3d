package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"github.com/smallbiznis/feeledger/pkg/db"
	"github.com/smallbiznis/feeledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApplyPayment adds a payment to the record identified by student, structure
// and period. The paid amount is incremented in place under a row lock, so
// concurrent payments on one record never lose an update. A reference that
// was already recorded replays the original result.
func (s *Service) ApplyPayment(ctx context.Context, req ledgerdomain.PaymentRequest) (ledgerdomain.PaymentResult, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return ledgerdomain.PaymentResult{}, ledgerdomain.ErrInvalidSchool
	}
	if req.Amount <= 0 {
		return ledgerdomain.PaymentResult{}, ledgerdomain.ErrInvalidAmount
	}
	if req.StudentID == 0 {
		return ledgerdomain.PaymentResult{}, ledgerdomain.ErrInvalidStudent
	}
	if req.FeeStructureID == 0 {
		return ledgerdomain.PaymentResult{}, ledgerdomain.ErrInvalidStructure
	}
	p, err := period.Parse(req.Period)
	if err != nil {
		return ledgerdomain.PaymentResult{}, err
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = "pay_" + strings.ToLower(ulid.Make().String())
	}
	if strings.HasPrefix(reference, "charge:") || strings.HasPrefix(reference, "late_fee:") {
		return ledgerdomain.PaymentResult{}, feeerr.Validation("invalid_reference", "reference", "reference prefix is reserved")
	}

	now := s.clock.Now().UTC()
	paidAt := now
	if req.PaidAt != nil && !req.PaidAt.IsZero() {
		paidAt = req.PaidAt.UTC()
	}

	var result ledgerdomain.PaymentResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		replay, found, err := s.findPayment(ctx, tx, schoolID, reference)
		if err != nil {
			return err
		}
		if found {
			result = replay
			return nil
		}

		var record ledgerdomain.StudentFeeRecord
		err = db.ForUpdate(tx.WithContext(ctx)).
			Where("school_id = ? AND student_id = ? AND fee_structure_id = ? AND period_ordinal = ?",
				schoolID, req.StudentID, req.FeeStructureID, p.Ordinal()).
			Take(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerdomain.ErrRecordNotFound
			}
			return feeerr.Wrap(err, "lock fee record")
		}

		newPaid := record.PaidAmount + req.Amount
		pending := ledgerdomain.Pending(record.TotalAmount, newPaid)
		res := tx.WithContext(ctx).Exec(
			`UPDATE student_fee_records
			SET paid_amount = paid_amount + ?, pending_amount = ?, version = version + 1,
				last_payment_date = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			req.Amount, pending, paidAt, now, record.ID, record.Version,
		)
		if res.Error != nil {
			return feeerr.Wrap(res.Error, "apply payment")
		}
		if res.RowsAffected == 0 {
			return ledgerdomain.ErrVersionMismatch
		}

		record.PaidAmount = newPaid
		record.PendingAmount = pending
		record.Version++
		record.LastPaymentDate = &paidAt
		record.UpdatedAt = now

		metadata := datatypes.JSONMap(correlation.Metadata(ctx))
		if method := strings.TrimSpace(req.Method); method != "" {
			metadata["method"] = method
		}
		txn := ledgerdomain.FeeTransaction{
			ID:         s.genID.Generate(),
			SchoolID:   schoolID,
			RecordID:   record.ID,
			StudentID:  record.StudentID,
			Kind:       ledgerdomain.TransactionKindPayment,
			Amount:     req.Amount,
			Reference:  reference,
			Metadata:   metadata,
			OccurredAt: paidAt,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
			return feeerr.Wrap(err, "append payment transaction")
		}

		result = ledgerdomain.PaymentResult{
			Record:      record,
			Transaction: txn,
			Status:      record.StatusAt(period.Today(now, s.location())),
			Overpaid:    record.Overpaid(),
		}
		return nil
	})
	if err != nil {
		// A concurrent request with the same reference won the insert.
		if db.IsDuplicateKeyErr(err) {
			replay, found, lookupErr := s.findPayment(ctx, s.db, schoolID, reference)
			if lookupErr == nil && found {
				return s.checkReplay(replay, req)
			}
		}
		return ledgerdomain.PaymentResult{}, err
	}

	if result.Replayed {
		return s.checkReplay(result, req)
	}

	s.obsMetrics.RecordPayment(false, req.Amount)
	s.log.Info("payment applied",
		zap.String("record_id", result.Record.ID.String()),
		zap.String("reference", reference),
		zap.Int64("amount", req.Amount),
		zap.Int64("pending", result.Record.PendingAmount),
		zap.Int64("overpaid", result.Overpaid),
	)
	return result, nil
}

func (s *Service) checkReplay(result ledgerdomain.PaymentResult, req ledgerdomain.PaymentRequest) (ledgerdomain.PaymentResult, error) {
	if result.Transaction.Amount != req.Amount || result.Record.StudentID != req.StudentID || result.Record.FeeStructureID != req.FeeStructureID {
		return ledgerdomain.PaymentResult{}, ledgerdomain.ErrReferenceReused
	}
	s.obsMetrics.RecordPayment(true, req.Amount)
	return result, nil
}

func (s *Service) findPayment(ctx context.Context, q *gorm.DB, schoolID snowflake.ID, reference string) (ledgerdomain.PaymentResult, bool, error) {
	var txn ledgerdomain.FeeTransaction
	err := q.WithContext(ctx).
		Where("school_id = ? AND reference = ?", schoolID, reference).
		Take(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.PaymentResult{}, false, nil
		}
		return ledgerdomain.PaymentResult{}, false, feeerr.Wrap(err, "load payment by reference")
	}
	if txn.Kind != ledgerdomain.TransactionKindPayment {
		return ledgerdomain.PaymentResult{}, false, ledgerdomain.ErrReferenceReused
	}

	var record ledgerdomain.StudentFeeRecord
	if err := q.WithContext(ctx).Where("id = ?", txn.RecordID).Take(&record).Error; err != nil {
		return ledgerdomain.PaymentResult{}, false, feeerr.Wrap(err, "load paid fee record")
	}
	return ledgerdomain.PaymentResult{
		Record:      record,
		Transaction: txn,
		Status:      record.StatusAt(period.Today(s.clock.Now(), s.location())),
		Overpaid:    record.Overpaid(),
		Replayed:    true,
	}, true, nil
}
