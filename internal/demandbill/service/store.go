package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/demandbill/domain"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errSequenceContention = feeerr.Conflict("bill_sequence_contention", "bill sequence is contended, retry", nil)

// findBill loads the issued bill of a student for a period with its lines.
func findBill(ctx context.Context, q *gorm.DB, schoolID, studentID snowflake.ID, periodOrdinal int) (domain.DemandBill, bool, error) {
	var bill domain.DemandBill
	err := q.WithContext(ctx).
		Where("school_id = ? AND student_id = ? AND period_ordinal = ?", schoolID, studentID, periodOrdinal).
		Take(&bill).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DemandBill{}, false, nil
		}
		return domain.DemandBill{}, false, feeerr.Wrap(err, "load demand bill")
	}
	if err := attachLines(ctx, q, []*domain.DemandBill{&bill}); err != nil {
		return domain.DemandBill{}, false, err
	}
	return bill, true, nil
}

func loadBills(ctx context.Context, q *gorm.DB, schoolID snowflake.ID, studentIDs []snowflake.ID) ([]domain.DemandBill, error) {
	if len(studentIDs) == 0 {
		return []domain.DemandBill{}, nil
	}
	var bills []domain.DemandBill
	err := q.WithContext(ctx).
		Where("school_id = ? AND student_id IN ?", schoolID, studentIDs).
		Order("period_ordinal ASC, id ASC").
		Find(&bills).Error
	if err != nil {
		return nil, feeerr.Wrap(err, "list demand bills")
	}
	ptrs := make([]*domain.DemandBill, 0, len(bills))
	for i := range bills {
		ptrs = append(ptrs, &bills[i])
	}
	if err := attachLines(ctx, q, ptrs); err != nil {
		return nil, err
	}
	return bills, nil
}

func attachLines(ctx context.Context, q *gorm.DB, bills []*domain.DemandBill) error {
	if len(bills) == 0 {
		return nil
	}
	ids := make([]snowflake.ID, 0, len(bills))
	byID := make(map[snowflake.ID]*domain.DemandBill, len(bills))
	for _, b := range bills {
		ids = append(ids, b.ID)
		byID[b.ID] = b
		b.Lines = []domain.DemandBillLine{}
	}

	var lines []domain.DemandBillLine
	err := q.WithContext(ctx).
		Where("bill_id IN ?", ids).
		Order("bill_id ASC, position ASC").
		Find(&lines).Error
	if err != nil {
		return feeerr.Wrap(err, "load demand bill lines")
	}
	for _, line := range lines {
		if b, ok := byID[line.BillID]; ok {
			b.Lines = append(b.Lines, line)
		}
	}
	return nil
}

// claimBill inserts the header row on the (school, student, period) key. It
// reports false when another generation already holds the key.
func claimBill(ctx context.Context, tx *gorm.DB, bill *domain.DemandBill) (bool, error) {
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(bill)
	if res.Error != nil {
		return false, feeerr.Wrap(res.Error, "claim demand bill")
	}
	return res.RowsAffected == 1, nil
}

// nextSequence increments the school's bill counter. The row stays locked
// until the surrounding transaction ends.
func nextSequence(ctx context.Context, tx *gorm.DB, schoolID snowflake.ID, now time.Time) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res := tx.WithContext(ctx).Exec(
			`UPDATE bill_sequences SET last_value = last_value + 1, updated_at = ? WHERE school_id = ?`,
			now, schoolID,
		)
		if res.Error != nil {
			return 0, feeerr.Wrap(res.Error, "increment bill sequence")
		}
		if res.RowsAffected == 1 {
			var seq domain.BillSequence
			if err := tx.WithContext(ctx).Where("school_id = ?", schoolID).Take(&seq).Error; err != nil {
				return 0, feeerr.Wrap(err, "read bill sequence")
			}
			return seq.LastValue, nil
		}

		created := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.BillSequence{
			SchoolID:  schoolID,
			LastValue: 1,
			UpdatedAt: now,
		})
		if created.Error != nil {
			return 0, feeerr.Wrap(created.Error, "create bill sequence")
		}
		if created.RowsAffected == 1 {
			return 1, nil
		}
	}
	return 0, errSequenceContention
}
