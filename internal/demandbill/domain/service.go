package domain

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/feeerr"
)

type Override struct {
	FeeStructureID snowflake.ID `json:"feeStructureId"`
	Amount         int64        `json:"amount"`
}

// Request targets either one student or a whole class for a period.
type Request struct {
	Period            string       `json:"period"`
	ClassID           snowflake.ID `json:"classId"`
	StudentID         snowflake.ID `json:"studentId"`
	OverrideLineItems []Override   `json:"overrideLineItems"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Period) == "" {
		return ErrMissingPeriod
	}
	if r.ClassID == 0 && r.StudentID == 0 {
		return ErrMissingTarget
	}
	if r.ClassID != 0 && r.StudentID != 0 {
		return ErrAmbiguousTarget
	}
	seen := make(map[snowflake.ID]struct{}, len(r.OverrideLineItems))
	for _, o := range r.OverrideLineItems {
		if o.FeeStructureID == 0 {
			return ErrInvalidOverride
		}
		if o.Amount < 0 {
			return ErrNegativeOverride
		}
		if _, dup := seen[o.FeeStructureID]; dup {
			return ErrDuplicateOverride
		}
		seen[o.FeeStructureID] = struct{}{}
	}
	return nil
}

type Service interface {
	// Preview composes bills without touching the ledger.
	Preview(ctx context.Context, req Request) ([]DemandBillPreviewItem, error)
	// Generate composes, numbers and persists bills. Retrying returns the
	// bills already issued for the period.
	Generate(ctx context.Context, req Request) ([]DemandBillPreviewItem, error)
	// StudentBills returns the issued bills of a student, oldest first.
	StudentBills(ctx context.Context, studentID snowflake.ID) ([]DemandBill, error)
	// BillsForStudents returns the issued bills of many students, oldest first.
	BillsForStudents(ctx context.Context, studentIDs []snowflake.ID) ([]DemandBill, error)
}

var (
	ErrInvalidSchool     = feeerr.Validation("invalid_school", "school_id", "school is required")
	ErrMissingPeriod     = feeerr.Validation("missing_period", "period", "period is required")
	ErrMissingTarget     = feeerr.Validation("missing_target", "classId", "classId or studentId is required")
	ErrAmbiguousTarget   = feeerr.Validation("ambiguous_target", "studentId", "classId and studentId are mutually exclusive")
	ErrInvalidOverride   = feeerr.Validation("invalid_override", "overrideLineItems", "override requires a fee structure")
	ErrNegativeOverride  = feeerr.Validation("negative_override", "overrideLineItems", "override amount must not be negative")
	ErrDuplicateOverride = feeerr.Validation("duplicate_override", "overrideLineItems", "fee structure overridden twice")
	ErrUnknownOverride   = feeerr.Validation("unknown_override", "overrideLineItems", "override references a fee structure not billed this period")
	ErrBatchInProgress   = feeerr.Conflict("generation_in_progress", "bill generation for this class is already running", nil)
)
