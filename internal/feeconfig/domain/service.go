package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"github.com/smallbiznis/feeledger/internal/period"
)

type CreateCategoryRequest struct {
	Name        string       `json:"name"`
	Type        CategoryType `json:"type"`
	Frequency   Frequency    `json:"frequency"`
	IsMandatory *bool        `json:"is_mandatory"`
}

type UpdateCategoryRequest struct {
	Name        *string       `json:"name"`
	Type        *CategoryType `json:"type"`
	IsMandatory *bool         `json:"is_mandatory"`
}

type ListCategoriesRequest struct {
	IncludeInactive bool
}

type CreateStructureRequest struct {
	AcademicYear        string          `json:"academic_year"`
	ClassID             snowflake.ID    `json:"class_id"`
	CategoryID          snowflake.ID    `json:"category_id"`
	Amount              int64           `json:"amount"`
	DueDateDay          int             `json:"due_date_day"`
	LateFeeGraceDays    int             `json:"late_fee_grace_days"`
	LateFeePenaltyType  string          `json:"late_fee_penalty_type"`
	LateFeePenaltyValue decimal.Decimal `json:"late_fee_penalty_value"`
	EffectiveFrom       string          `json:"effective_from"`
}

// AmendStructureRequest changes the price or due-day of a structure. When the
// structure has been billed, the change only applies from EffectiveFrom (or the
// period after the last billed one, whichever is later).
type AmendStructureRequest struct {
	Amount              *int64           `json:"amount"`
	DueDateDay          *int             `json:"due_date_day"`
	LateFeeGraceDays    *int             `json:"late_fee_grace_days"`
	LateFeePenaltyType  *string          `json:"late_fee_penalty_type"`
	LateFeePenaltyValue *decimal.Decimal `json:"late_fee_penalty_value"`
	EffectiveFrom       string           `json:"effective_from"`
}

type ListStructuresRequest struct {
	AcademicYear    string
	ClassID         snowflake.ID
	IncludeInactive bool
}

type Service interface {
	CreateCategory(ctx context.Context, req CreateCategoryRequest) (FeeCategory, error)
	UpdateCategory(ctx context.Context, id snowflake.ID, req UpdateCategoryRequest) (FeeCategory, error)
	DeactivateCategory(ctx context.Context, id snowflake.ID) (FeeCategory, error)
	GetCategory(ctx context.Context, id snowflake.ID) (FeeCategory, error)
	ListCategories(ctx context.Context, req ListCategoriesRequest) ([]FeeCategory, error)

	CreateStructure(ctx context.Context, req CreateStructureRequest) (FeeStructure, error)
	AmendStructure(ctx context.Context, id snowflake.ID, req AmendStructureRequest) (FeeStructure, error)
	DeactivateStructure(ctx context.Context, id snowflake.ID) (FeeStructure, error)
	GetStructure(ctx context.Context, id snowflake.ID) (FeeStructure, error)
	ListStructures(ctx context.Context, req ListStructuresRequest) ([]FeeStructure, error)

	// GetActiveStructures returns the class's billable structures for p,
	// joined with their categories: active structures in effect by p and
	// superseded ones whose effective window still covers p.
	// ErrStructuresNotFound when none.
	GetActiveStructures(ctx context.Context, academicYear string, classID snowflake.ID, p period.Period) ([]FeeStructure, error)
	Snapshot(ctx context.Context, academicYear string, classID snowflake.ID, p period.Period) (Snapshot, error)
}

// StructureUsage reports ledger usage of a structure. It is implemented by
// the ledger, which owns the fee records.
type StructureUsage interface {
	LastBilledPeriod(ctx context.Context, schoolID, structureID snowflake.ID) (int, bool, error)
}

var (
	ErrInvalidSchool       = feeerr.Validation("invalid_school", "school_id", "school is required")
	ErrInvalidCategoryName = feeerr.Validation("invalid_category_name", "name", "category name is required")
	ErrInvalidCategoryType = feeerr.Validation("invalid_category_type", "type", "unknown category type")
	ErrInvalidFrequency    = feeerr.Validation("invalid_frequency", "frequency", "unknown frequency")
	ErrInvalidAmount       = feeerr.Validation("invalid_amount", "amount", "amount cannot be negative")
	ErrInvalidDueDateDay   = feeerr.Validation("invalid_due_date_day", "due_date_day", "due date day must be 1..31")
	ErrInvalidAcademicYear = feeerr.Validation("invalid_academic_year", "academic_year", "academic year is required")
	ErrInvalidClass        = feeerr.Validation("invalid_class", "class_id", "class is required")

	ErrCategoryNotFound   = feeerr.NotFound("fee_category_not_found", "fee category not found")
	ErrStructureNotFound  = feeerr.NotFound("fee_structure_not_found", "fee structure not found")
	ErrStructuresNotFound = feeerr.NotFound("no_active_fee_structures", "no active fee structures for class")

	ErrCategoryInactive     = feeerr.Conflict("fee_category_inactive", "fee category is inactive", nil)
	ErrCategoryCodeTaken    = feeerr.Conflict("fee_category_exists", "a category with this name already exists", nil)
	ErrActiveStructureTaken = feeerr.Conflict("active_fee_structure_exists", "an active structure already prices this category for the class", nil)
	ErrStructureInactive    = feeerr.Conflict("fee_structure_inactive", "fee structure is inactive", nil)
)

// IsNoStructures reports whether err means "nothing billable".
func IsNoStructures(err error) bool {
	return errors.Is(err, ErrStructuresNotFound)
}

// BillableInPeriod applies the calendar part of the frequency rules. ANNUAL
// and ONE_TIME structures also depend on ledger history, checked by the caller.
func BillableInPeriod(f Frequency, p period.Period, academicYearStartMonth int) bool {
	switch f {
	case FrequencyMonthly, FrequencyAnnual, FrequencyOneTime:
		return true
	case FrequencyQuarterly:
		ay := period.AcademicYearOf(p, academicYearStartMonth)
		return ay.MonthsIntoYear(p)%3 == 0
	default:
		return false
	}
}
