package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/feeledger/internal/observability/metrics"
	"github.com/smallbiznis/feeledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock             `optional:"true"`
	Fees       *config.FeeConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics     `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	fees       *config.FeeConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clk,
		fees:       p.Fees,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) location() *time.Location {
	if s.fees == nil {
		return time.UTC
	}
	return s.fees.Get().Location()
}

func (s *Service) WithTx(tx *gorm.DB) ledgerdomain.Tx {
	return &txLedger{svc: s, tx: tx}
}

func (s *Service) OutstandingBefore(ctx context.Context, schoolID, studentID snowflake.ID, periodOrdinal int) ([]ledgerdomain.StudentFeeRecord, error) {
	return outstandingBefore(s.db.WithContext(ctx), schoolID, studentID, periodOrdinal, false)
}

func (s *Service) CategoryDue(ctx context.Context, schoolID, studentID, categoryID snowflake.ID, scope string, periodOrdinal int) (bool, error) {
	owner, found, err := categoryOwner(s.db.WithContext(ctx), schoolID, studentID, categoryID, scope)
	if err != nil {
		return false, err
	}
	return !found || owner == periodOrdinal, nil
}

func (s *Service) StudentRecords(ctx context.Context, schoolID, studentID snowflake.ID) ([]ledgerdomain.StudentFeeRecord, error) {
	if schoolID == 0 {
		return nil, ledgerdomain.ErrInvalidSchool
	}
	var records []ledgerdomain.StudentFeeRecord
	err := s.db.WithContext(ctx).
		Where("school_id = ? AND student_id = ?", schoolID, studentID).
		Order("period_ordinal ASC, category_name ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, feeerr.Wrap(err, "list student fee records")
	}
	return records, nil
}

func (s *Service) RecordsForStudents(ctx context.Context, schoolID snowflake.ID, studentIDs []snowflake.ID) ([]ledgerdomain.StudentFeeRecord, error) {
	if schoolID == 0 {
		return nil, ledgerdomain.ErrInvalidSchool
	}
	if len(studentIDs) == 0 {
		return []ledgerdomain.StudentFeeRecord{}, nil
	}
	var records []ledgerdomain.StudentFeeRecord
	err := s.db.WithContext(ctx).
		Where("school_id = ? AND student_id IN ?", schoolID, studentIDs).
		Order("student_id ASC, period_ordinal ASC, category_name ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, feeerr.Wrap(err, "list class fee records")
	}
	return records, nil
}

func (s *Service) Transactions(ctx context.Context, schoolID snowflake.ID, recordIDs []snowflake.ID) (map[snowflake.ID][]ledgerdomain.FeeTransaction, error) {
	out := make(map[snowflake.ID][]ledgerdomain.FeeTransaction, len(recordIDs))
	if len(recordIDs) == 0 {
		return out, nil
	}
	var txns []ledgerdomain.FeeTransaction
	err := s.db.WithContext(ctx).
		Where("school_id = ? AND record_id IN ?", schoolID, recordIDs).
		Order("id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, feeerr.Wrap(err, "list fee transactions")
	}
	for _, txn := range txns {
		out[txn.RecordID] = append(out[txn.RecordID], txn)
	}
	return out, nil
}

func (s *Service) StudentsWithPending(ctx context.Context, schoolID snowflake.ID, minPending int64) ([]ledgerdomain.StudentBalance, error) {
	if schoolID == 0 {
		return nil, ledgerdomain.ErrInvalidSchool
	}
	if minPending < 1 {
		minPending = 1
	}
	var rows []ledgerdomain.StudentBalance
	err := s.db.WithContext(ctx).Raw(
		`SELECT student_id, MAX(class_id) AS class_id, SUM(pending_amount) AS total_pending, COUNT(*) AS records
		FROM student_fee_records
		WHERE school_id = ? AND pending_amount > 0
		GROUP BY student_id
		HAVING SUM(pending_amount) >= ?
		ORDER BY student_id ASC`,
		schoolID, minPending,
	).Scan(&rows).Error
	if err != nil {
		return nil, feeerr.Wrap(err, "aggregate pending balances")
	}
	return rows, nil
}

// LastBilledPeriod returns the latest period ordinal recorded against a fee
// structure.
func (s *Service) LastBilledPeriod(ctx context.Context, schoolID, structureID snowflake.ID) (int, bool, error) {
	var last sql.NullInt64
	err := s.db.WithContext(ctx).
		Model(&ledgerdomain.StudentFeeRecord{}).
		Select("MAX(period_ordinal)").
		Where("school_id = ? AND fee_structure_id = ?", schoolID, structureID).
		Scan(&last).Error
	if err != nil {
		return 0, false, feeerr.Wrap(err, "load last billed period")
	}
	if !last.Valid {
		return 0, false, nil
	}
	return int(last.Int64), true, nil
}

func outstandingBefore(q *gorm.DB, schoolID, studentID snowflake.ID, periodOrdinal int, lock bool) ([]ledgerdomain.StudentFeeRecord, error) {
	if schoolID == 0 {
		return nil, ledgerdomain.ErrInvalidSchool
	}
	if lock {
		q = db.ForUpdate(q)
	}
	var records []ledgerdomain.StudentFeeRecord
	err := q.
		Where("school_id = ? AND student_id = ? AND period_ordinal < ? AND pending_amount > 0", schoolID, studentID, periodOrdinal).
		Order("period_ordinal ASC, category_name ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, feeerr.Wrap(err, "load outstanding fee records")
	}
	return records, nil
}

// categoryOwner returns the period holding the category charge for scope.
func categoryOwner(q *gorm.DB, schoolID, studentID, categoryID snowflake.ID, scope string) (int, bool, error) {
	var charges []ledgerdomain.CategoryCharge
	err := q.
		Where("school_id = ? AND student_id = ? AND category_id = ? AND scope = ?", schoolID, studentID, categoryID, scope).
		Limit(1).
		Find(&charges).Error
	if err != nil {
		return 0, false, feeerr.Wrap(err, "check category charge")
	}
	if len(charges) == 0 {
		return 0, false, nil
	}
	return charges[0].PeriodOrdinal, true, nil
}
