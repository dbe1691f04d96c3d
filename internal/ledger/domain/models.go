package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/latefee"
	"gorm.io/datatypes"
)

// Status is derived from ledger state and the current date. It is never stored.
type Status string

const (
	StatusPaid    Status = "PAID"
	StatusPartial Status = "PARTIAL"
	StatusOverdue Status = "OVERDUE"
	StatusPending Status = "PENDING"
)

type TransactionKind string

const (
	TransactionKindCharge  TransactionKind = "CHARGE"
	TransactionKindLateFee TransactionKind = "LATE_FEE"
	TransactionKindPayment TransactionKind = "PAYMENT"
)

// StudentFeeRecord is one student's obligation for one fee structure in one
// period. The natural key is (school, student, structure, academic year,
// period) and every insert is an insert-or-ignore on it.
type StudentFeeRecord struct {
	ID              snowflake.ID        `gorm:"primaryKey" json:"id"`
	SchoolID        snowflake.ID        `gorm:"not null;uniqueIndex:ux_student_fee_records_natural,priority:1;index:ix_student_fee_records_student,priority:1" json:"school_id"`
	StudentID       snowflake.ID        `gorm:"not null;uniqueIndex:ux_student_fee_records_natural,priority:2;index:ix_student_fee_records_student,priority:2" json:"student_id"`
	FeeStructureID  snowflake.ID        `gorm:"not null;uniqueIndex:ux_student_fee_records_natural,priority:3;index" json:"fee_structure_id"`
	AcademicYear    string              `gorm:"type:text;not null;uniqueIndex:ux_student_fee_records_natural,priority:4" json:"academic_year"`
	PeriodOrdinal   int                 `gorm:"not null;uniqueIndex:ux_student_fee_records_natural,priority:5;index:ix_student_fee_records_student,priority:3" json:"period_ordinal"`
	PeriodLabel     string              `gorm:"type:text;not null" json:"period"`
	ClassID         snowflake.ID        `gorm:"not null" json:"class_id"`
	CategoryID      snowflake.ID        `gorm:"not null" json:"category_id"`
	CategoryName    string              `gorm:"type:text;not null" json:"category_name"`
	BaseAmount      int64               `gorm:"not null" json:"base_amount"`
	LateFeeAmount   int64               `gorm:"not null" json:"late_fee_amount"`
	TotalAmount     int64               `gorm:"not null" json:"total_amount"`
	PaidAmount      int64               `gorm:"not null" json:"paid_amount"`
	PendingAmount   int64               `gorm:"not null" json:"pending_amount"`
	DueDate         time.Time           `gorm:"not null" json:"due_date"`
	GracePeriodDays int                 `gorm:"not null" json:"grace_period_days"`
	PenaltyType     latefee.PenaltyType `gorm:"type:text;not null" json:"penalty_type,omitempty"`
	PenaltyValue    decimal.Decimal     `gorm:"type:numeric(12,4);not null" json:"penalty_value"`
	AppliedPenalty  bool                `gorm:"not null" json:"applied_penalty"`
	LastPaymentDate *time.Time          `json:"last_payment_date,omitempty"`
	Version         int64               `gorm:"not null" json:"version"`
	CreatedAt       time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"not null" json:"updated_at"`
}

func (StudentFeeRecord) TableName() string { return "student_fee_records" }

// StatusAt derives the record status on the given calendar date.
func (r StudentFeeRecord) StatusAt(today time.Time) Status {
	return DeriveStatus(r.PaidAmount, r.PendingAmount, r.DueDate, today)
}

// Overpaid is the amount paid beyond the total.
func (r StudentFeeRecord) Overpaid() int64 {
	return max(0, r.PaidAmount-r.TotalAmount)
}

func (r StudentFeeRecord) LateFeeRule() latefee.Rule {
	return latefee.Rule{GraceDays: r.GracePeriodDays, Type: r.PenaltyType, Value: r.PenaltyValue}
}

// DeriveStatus is PAID when nothing is pending, OVERDUE after the due date,
// PARTIAL when something was paid and PENDING otherwise.
func DeriveStatus(paid, pending int64, dueDate, today time.Time) Status {
	switch {
	case pending <= 0:
		return StatusPaid
	case dateOnly(today).After(dateOnly(dueDate)):
		return StatusOverdue
	case paid > 0:
		return StatusPartial
	default:
		return StatusPending
	}
}

// Pending is max(0, total - paid).
func Pending(total, paid int64) int64 {
	return max(0, total-paid)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FeeTransaction is an append-only movement on a record. Ordered by id they
// form the record's transaction history. Reference is unique per school, which
// makes charges, late fees and payments idempotent.
type FeeTransaction struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	SchoolID   snowflake.ID      `gorm:"not null;uniqueIndex:ux_fee_transactions_reference,priority:1" json:"school_id"`
	RecordID   snowflake.ID      `gorm:"not null;index" json:"record_id"`
	StudentID  snowflake.ID      `gorm:"not null;index" json:"student_id"`
	Kind       TransactionKind   `gorm:"type:text;not null" json:"kind"`
	Amount     int64             `gorm:"not null" json:"amount"`
	Reference  string            `gorm:"type:text;not null;uniqueIndex:ux_fee_transactions_reference,priority:2" json:"reference"`
	BillID     snowflake.ID      `gorm:"index" json:"bill_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	OccurredAt time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (FeeTransaction) TableName() string { return "fee_transactions" }

// ScopeOnce is the CategoryCharge scope of one-time categories.
const ScopeOnce = "ONCE"

// CategoryCharge names the period that carries a student's charge for a
// category billed once per scope: the academic year label for annual
// categories, ScopeOnce for one-time ones. The primary key makes the claim an
// insert-or-ignore, so two periods generated concurrently cannot both take it.
type CategoryCharge struct {
	SchoolID      snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"school_id"`
	StudentID     snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"student_id"`
	CategoryID    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"category_id"`
	Scope         string       `gorm:"primaryKey;type:text" json:"scope"`
	PeriodOrdinal int          `gorm:"not null" json:"period_ordinal"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (CategoryCharge) TableName() string { return "student_category_charges" }

// StudentBalance aggregates a student's unpaid records.
type StudentBalance struct {
	StudentID    snowflake.ID `json:"student_id"`
	ClassID      snowflake.ID `json:"class_id"`
	TotalPending int64        `json:"total_pending"`
	Records      int64        `json:"records"`
}
