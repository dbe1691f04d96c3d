package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DemandBill is the issuance log of a generated bill. The bill content is
// derivable from ledger state but its number is not, so the header and lines
// are stored once and replayed on retries.
type DemandBill struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	SchoolID         snowflake.ID `gorm:"not null;uniqueIndex:ux_demand_bills_bill_no,priority:1;uniqueIndex:ux_demand_bills_student_period,priority:1"`
	BillNo           string       `gorm:"type:text;not null;uniqueIndex:ux_demand_bills_bill_no,priority:2"`
	StudentID        snowflake.ID `gorm:"not null;uniqueIndex:ux_demand_bills_student_period,priority:2"`
	PeriodOrdinal    int          `gorm:"not null;uniqueIndex:ux_demand_bills_student_period,priority:3"`
	PeriodLabel      string       `gorm:"type:text;not null"`
	AcademicYear     string       `gorm:"type:text;not null"`
	ClassID          snowflake.ID `gorm:"not null;index"`
	BillDate         time.Time    `gorm:"not null"`
	MonthLabel       string       `gorm:"type:text;not null"`
	TotalCurrentFees int64        `gorm:"not null"`
	TotalBackDues    int64        `gorm:"not null"`
	GrandTotal       int64        `gorm:"not null"`
	StudentName      string       `gorm:"type:text;not null"`
	FatherName       string       `gorm:"type:text"`
	ClassName        string       `gorm:"type:text"`
	RollNo           string       `gorm:"type:text"`
	AdmissionNumber  string       `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`

	Lines []DemandBillLine `gorm:"-"`
}

func (DemandBill) TableName() string { return "demand_bills" }

type DemandBillLine struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	BillID       snowflake.ID `gorm:"not null;index"`
	Position     int          `gorm:"not null"`
	CategoryName string       `gorm:"type:text;not null"`
	MonthsUpto   string       `gorm:"type:text;not null"`
	Amount       int64        `gorm:"not null"`
	IsBackDue    bool         `gorm:"not null"`
	RecordID     snowflake.ID `gorm:"not null"`
}

func (DemandBillLine) TableName() string { return "demand_bill_lines" }

// BillSequence is the per-school counter behind bill numbers.
type BillSequence struct {
	SchoolID  snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64        `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

func (BillSequence) TableName() string { return "bill_sequences" }

type LineItem struct {
	CategoryName string `json:"categoryName"`
	MonthsUpto   string `json:"monthsUpto"`
	Amount       int64  `json:"amount"`
	IsBackDue    bool   `json:"isBackDue"`
}

// DemandBillPreviewItem is the wire shape of a composed or generated bill.
type DemandBillPreviewItem struct {
	StudentID        snowflake.ID `json:"studentId"`
	StudentName      string       `json:"studentName"`
	FatherName       string       `json:"fatherName"`
	ClassName        string       `json:"className"`
	RollNo           string       `json:"rollNo"`
	AdmissionNumber  string       `json:"admissionNumber"`
	BillNo           string       `json:"billNo"`
	BillDate         string       `json:"billDate"`
	MonthLabel       string       `json:"monthLabel"`
	LineItems        []LineItem   `json:"lineItems"`
	TotalCurrentFees int64        `json:"totalCurrentFees"`
	TotalBackDues    int64        `json:"totalBackDues"`
	GrandTotal       int64        `json:"grandTotal"`
}

// BillDateLayout formats billDate.
const BillDateLayout = "2006-01-02"

// Totals recomputes the three totals from the line items.
func Totals(lines []LineItem) (current, backDues, grand int64) {
	for _, line := range lines {
		if line.IsBackDue {
			backDues += line.Amount
		} else {
			current += line.Amount
		}
	}
	return current, backDues, current + backDues
}

// PreviewItem renders the stored bill in wire shape.
func (b DemandBill) PreviewItem() DemandBillPreviewItem {
	lines := make([]LineItem, 0, len(b.Lines))
	for _, line := range b.Lines {
		lines = append(lines, LineItem{
			CategoryName: line.CategoryName,
			MonthsUpto:   line.MonthsUpto,
			Amount:       line.Amount,
			IsBackDue:    line.IsBackDue,
		})
	}
	return DemandBillPreviewItem{
		StudentID:        b.StudentID,
		StudentName:      b.StudentName,
		FatherName:       b.FatherName,
		ClassName:        b.ClassName,
		RollNo:           b.RollNo,
		AdmissionNumber:  b.AdmissionNumber,
		BillNo:           b.BillNo,
		BillDate:         b.BillDate.Format(BillDateLayout),
		MonthLabel:       b.MonthLabel,
		LineItems:        lines,
		TotalCurrentFees: b.TotalCurrentFees,
		TotalBackDues:    b.TotalBackDues,
		GrandTotal:       b.GrandTotal,
	}
}
