package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"github.com/smallbiznis/feeledger/internal/latefee"
	"gorm.io/gorm"
)

// NewRecord is a charge to be inserted for the current period.
type NewRecord struct {
	SchoolID       snowflake.ID
	StudentID      snowflake.ID
	ClassID        snowflake.ID
	FeeStructureID snowflake.ID
	CategoryID     snowflake.ID
	CategoryName   string
	AcademicYear   string
	PeriodOrdinal  int
	PeriodLabel    string
	Amount         int64
	DueDate        time.Time
	GraceDays      int
	PenaltyType    latefee.PenaltyType
	PenaltyValue   decimal.Decimal
}

type PaymentRequest struct {
	StudentID      snowflake.ID `json:"studentId"`
	FeeStructureID snowflake.ID `json:"feeStructureId"`
	Period         string       `json:"period"`
	Amount         int64        `json:"amount"`
	Reference      string       `json:"reference"`
	PaidAt         *time.Time   `json:"paidAt"`
	Method         string       `json:"method"`
}

type PaymentResult struct {
	Record      StudentFeeRecord `json:"record"`
	Transaction FeeTransaction   `json:"transaction"`
	Status      Status           `json:"status"`
	Overpaid    int64            `json:"overpaid"`
	Replayed    bool             `json:"replayed"`
}

// RecordSource lists a student's unresolved records before a period, oldest
// first. Both the read API and the transaction API implement it.
type RecordSource interface {
	OutstandingBefore(ctx context.Context, schoolID, studentID snowflake.ID, periodOrdinal int) ([]StudentFeeRecord, error)
}

// Tx is the transaction-scoped write API used by bill generation. It is the
// only way other packages mutate fee records.
type Tx interface {
	RecordSource

	// LockOutstanding is OutstandingBefore with the rows locked for update.
	LockOutstanding(ctx context.Context, schoolID, studentID snowflake.ID, periodOrdinal int) ([]StudentFeeRecord, error)
	// CategoryDue claims scope for periodOrdinal unless another period holds
	// it, and reports whether periodOrdinal carries the category's charge.
	CategoryDue(ctx context.Context, schoolID, studentID, categoryID snowflake.ID, scope string, periodOrdinal int) (bool, error)
	// InsertCharge inserts the record unless its natural key exists and
	// appends a CHARGE transaction for new records.
	InsertCharge(ctx context.Context, rec NewRecord, billID snowflake.ID) (StudentFeeRecord, bool, error)
	// ApplyLateFee folds a penalty into the record exactly once.
	ApplyLateFee(ctx context.Context, record StudentFeeRecord, penalty int64, billID snowflake.ID) (StudentFeeRecord, error)
}

type Service interface {
	RecordSource

	// WithTx binds the write API to an open transaction.
	WithTx(tx *gorm.DB) Tx

	ApplyPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)

	// CategoryDue is the read-only form of Tx.CategoryDue: true when no
	// period or periodOrdinal itself holds scope.
	CategoryDue(ctx context.Context, schoolID, studentID, categoryID snowflake.ID, scope string, periodOrdinal int) (bool, error)
	StudentRecords(ctx context.Context, schoolID, studentID snowflake.ID) ([]StudentFeeRecord, error)
	RecordsForStudents(ctx context.Context, schoolID snowflake.ID, studentIDs []snowflake.ID) ([]StudentFeeRecord, error)
	Transactions(ctx context.Context, schoolID snowflake.ID, recordIDs []snowflake.ID) (map[snowflake.ID][]FeeTransaction, error)
	StudentsWithPending(ctx context.Context, schoolID snowflake.ID, minPending int64) ([]StudentBalance, error)
	LastBilledPeriod(ctx context.Context, schoolID, structureID snowflake.ID) (int, bool, error)
}

var (
	ErrInvalidSchool       = feeerr.Validation("invalid_school", "school_id", "school is required")
	ErrInvalidAmount       = feeerr.Validation("invalid_amount", "amount", "payment amount must be positive")
	ErrInvalidStudent      = feeerr.Validation("invalid_student", "studentId", "student is required")
	ErrInvalidStructure    = feeerr.Validation("invalid_fee_structure", "feeStructureId", "fee structure is required")
	ErrInvalidPenalty      = feeerr.Validation("invalid_penalty", "penalty", "penalty must be positive")
	ErrRecordNotFound      = feeerr.NotFound("fee_record_not_found", "fee record not found")
	ErrReferenceReused     = feeerr.Conflict("payment_reference_reused", "payment reference already used for a different payment", nil)
	ErrVersionMismatch     = feeerr.Conflict("version_mismatch", "fee record changed concurrently", nil)
	ErrPenaltyAlreadyTaken = feeerr.Conflict("penalty_already_applied", "late fee already applied to record", nil)
)
