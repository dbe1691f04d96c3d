package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/latefee"
)

type CategoryType string

const (
	CategoryTypeTuition   CategoryType = "TUITION"
	CategoryTypeTransport CategoryType = "TRANSPORT"
	CategoryTypeExam      CategoryType = "EXAM"
	CategoryTypeAdmission CategoryType = "ADMISSION"
	CategoryTypeLibrary   CategoryType = "LIBRARY"
	CategoryTypeLab       CategoryType = "LAB"
	CategoryTypeSports    CategoryType = "SPORTS"
	CategoryTypeHostel    CategoryType = "HOSTEL"
	CategoryTypeOther     CategoryType = "OTHER"
)

var categoryTypes = map[CategoryType]struct{}{
	CategoryTypeTuition:   {},
	CategoryTypeTransport: {},
	CategoryTypeExam:      {},
	CategoryTypeAdmission: {},
	CategoryTypeLibrary:   {},
	CategoryTypeLab:       {},
	CategoryTypeSports:    {},
	CategoryTypeHostel:    {},
	CategoryTypeOther:     {},
}

func (t CategoryType) Valid() bool {
	_, ok := categoryTypes[t]
	return ok
}

type Frequency string

const (
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyAnnual    Frequency = "ANNUAL"
	FrequencyOneTime   Frequency = "ONE_TIME"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual, FrequencyOneTime:
		return true
	}
	return false
}

// FeeCategory is a kind of fee a school charges. Categories are deactivated,
// never deleted, so historical bills keep resolving their names.
type FeeCategory struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID    snowflake.ID `gorm:"not null;uniqueIndex:ux_fee_categories_school_code,priority:1" json:"school_id"`
	Code        string       `gorm:"type:text;not null;uniqueIndex:ux_fee_categories_school_code,priority:2" json:"code"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Type        CategoryType `gorm:"type:text;not null" json:"type"`
	Frequency   Frequency    `gorm:"type:text;not null" json:"frequency"`
	IsMandatory bool         `gorm:"not null" json:"is_mandatory"`
	Active      bool         `gorm:"not null" json:"active"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (FeeCategory) TableName() string { return "fee_categories" }

// FeeStructure prices a category for one class in one academic year. A
// superseded structure is inactive but stays billable for the periods before
// EffectiveToPeriod, which is where its successor takes over.
type FeeStructure struct {
	ID                  snowflake.ID        `gorm:"primaryKey" json:"id"`
	SchoolID            snowflake.ID        `gorm:"not null;index:ix_fee_structures_lookup,priority:1" json:"school_id"`
	AcademicYear        string              `gorm:"type:text;not null;index:ix_fee_structures_lookup,priority:2" json:"academic_year"`
	ClassID             snowflake.ID        `gorm:"not null;index:ix_fee_structures_lookup,priority:3" json:"class_id"`
	CategoryID          snowflake.ID        `gorm:"not null;index" json:"category_id"`
	Amount              int64               `gorm:"not null" json:"amount"`
	DueDateDay          int                 `gorm:"not null" json:"due_date_day"`
	LateFeeGraceDays    int                 `gorm:"not null;default:0" json:"late_fee_grace_days"`
	LateFeePenaltyType  latefee.PenaltyType `gorm:"type:text;not null;default:''" json:"late_fee_penalty_type,omitempty"`
	LateFeePenaltyValue decimal.Decimal     `gorm:"type:numeric(12,4);not null;default:0" json:"late_fee_penalty_value"`
	EffectiveFromPeriod int                 `gorm:"not null;default:0" json:"effective_from_period"`
	EffectiveToPeriod   *int                `json:"effective_to_period,omitempty"`
	SupersededBy        *snowflake.ID       `json:"superseded_by,omitempty"`
	Active              bool                `gorm:"not null" json:"active"`
	Version             int64               `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"not null" json:"updated_at"`

	Category FeeCategory `gorm:"-" json:"category"`
}

func (FeeStructure) TableName() string { return "fee_structures" }

// LateFeeRule returns the structure's penalty policy.
func (s FeeStructure) LateFeeRule() latefee.Rule {
	return latefee.Rule{
		GraceDays: s.LateFeeGraceDays,
		Type:      s.LateFeePenaltyType,
		Value:     s.LateFeePenaltyValue,
	}
}

// Snapshot is an immutable view of a class's billable structures taken once
// per generation batch.
type Snapshot struct {
	SchoolID     snowflake.ID
	AcademicYear string
	ClassID      snowflake.ID
	PeriodOrd    int
	Structures   []FeeStructure
}

// Lookup finds a structure by id.
func (s Snapshot) Lookup(id snowflake.ID) (FeeStructure, bool) {
	for _, st := range s.Structures {
		if st.ID == id {
			return st, true
		}
	}
	return FeeStructure{}, false
}

func (s Snapshot) Empty() bool { return len(s.Structures) == 0 }
