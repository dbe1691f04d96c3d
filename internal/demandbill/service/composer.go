package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/backdue"
	"github.com/smallbiznis/feeledger/internal/demandbill/domain"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/roster"
)

// ledgerReader is the slice of the ledger the composer reads. The ledger
// service and its transaction-scoped API both satisfy it.
type ledgerReader interface {
	ledgerdomain.RecordSource
	CategoryDue(ctx context.Context, schoolID, studentID, categoryID snowflake.ID, scope string, periodOrdinal int) (bool, error)
}

type currentLine struct {
	structure  feeconfigdomain.FeeStructure
	amount     int64
	monthsUpto string
	recordID   snowflake.ID
}

type composition struct {
	current  []currentLine
	backDues backdue.Breakdown
}

// compose builds one student's bill for the target period. Through a
// transactional source it also claims the annual and one-time charges it bills.
func (s *Service) compose(ctx context.Context, src ledgerReader, t target, student roster.Student) (composition, error) {
	var comp composition
	for _, st := range t.snapshot.Structures {
		billable, err := s.billable(ctx, src, t, student, st)
		if err != nil {
			return composition{}, err
		}
		if !billable {
			continue
		}
		amount := st.Amount
		if override, ok := t.overrides[st.ID]; ok {
			amount = override
		}
		comp.current = append(comp.current, currentLine{
			structure:  st,
			amount:     amount,
			monthsUpto: monthsUpto(st.Category.Frequency, t.period, t.year),
		})
	}

	breakdown, err := s.resolver.Resolve(ctx, src, t.schoolID, student.ID, t.period, t.today)
	if err != nil {
		return composition{}, err
	}
	comp.backDues = breakdown
	return comp, nil
}

func (s *Service) billable(ctx context.Context, src ledgerReader, t target, student roster.Student, st feeconfigdomain.FeeStructure) (bool, error) {
	freq := st.Category.Frequency
	if !feeconfigdomain.BillableInPeriod(freq, t.period, t.fees.AcademicYearStartMonth) {
		return false, nil
	}
	switch freq {
	case feeconfigdomain.FrequencyAnnual:
		return src.CategoryDue(ctx, t.schoolID, student.ID, st.CategoryID, t.year.Label(), t.period.Ordinal())
	case feeconfigdomain.FrequencyOneTime:
		return src.CategoryDue(ctx, t.schoolID, student.ID, st.CategoryID, ledgerdomain.ScopeOnce, t.period.Ordinal())
	default:
		return true, nil
	}
}

// monthsUpto is the last month a current line pays for.
func monthsUpto(freq feeconfigdomain.Frequency, p period.Period, year period.AcademicYear) string {
	switch freq {
	case feeconfigdomain.FrequencyQuarterly:
		end := period.FromOrdinal(p.Ordinal() + 2)
		if last := year.LastPeriod(); last.Before(end) {
			end = last
		}
		return end.ShortLabel()
	case feeconfigdomain.FrequencyAnnual:
		return year.LastPeriod().ShortLabel()
	default:
		return p.ShortLabel()
	}
}

func (c composition) lineItems() []domain.LineItem {
	lines := make([]domain.LineItem, 0, len(c.current)+len(c.backDues.Entries))
	for _, line := range c.current {
		lines = append(lines, domain.LineItem{
			CategoryName: line.structure.Category.Name,
			MonthsUpto:   line.monthsUpto,
			Amount:       line.amount,
		})
	}
	for _, entry := range c.backDues.Entries {
		lines = append(lines, domain.LineItem{
			CategoryName: entry.Label,
			MonthsUpto:   entry.Period.ShortLabel(),
			Amount:       entry.Amount,
			IsBackDue:    true,
		})
	}
	return lines
}

func (c composition) previewItem(student roster.Student, billNo, billDate, monthLabel string) domain.DemandBillPreviewItem {
	lines := c.lineItems()
	current, backDues, grand := domain.Totals(lines)
	return domain.DemandBillPreviewItem{
		StudentID:        student.ID,
		StudentName:      student.Name,
		FatherName:       student.FatherName,
		ClassName:        student.ClassName,
		RollNo:           student.RollNo,
		AdmissionNumber:  student.AdmissionNumber,
		BillNo:           billNo,
		BillDate:         billDate,
		MonthLabel:       monthLabel,
		LineItems:        lines,
		TotalCurrentFees: current,
		TotalBackDues:    backDues,
		GrandTotal:       grand,
	}
}
