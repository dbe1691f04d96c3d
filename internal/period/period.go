package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/feeledger/internal/feeerr"
)

// Period is one calendar month of billing.
type Period struct {
	Year  int
	Month time.Month
}

// Parse reads a "YYYY-MM" label.
func Parse(label string) (Period, error) {
	label = strings.TrimSpace(label)
	parts := strings.Split(label, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return Period{}, feeerr.Validation("invalid_period", "period", fmt.Sprintf("period %q must be YYYY-MM", label))
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1900 {
		return Period{}, feeerr.Validation("invalid_period", "period", fmt.Sprintf("period %q has an invalid year", label))
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return Period{}, feeerr.Validation("invalid_period", "period", fmt.Sprintf("period %q has an invalid month", label))
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// Of returns the period containing t.
func Of(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// FromOrdinal is the inverse of Ordinal.
func FromOrdinal(ordinal int) Period {
	return Period{Year: ordinal / 12, Month: time.Month(ordinal%12 + 1)}
}

// Ordinal is year*12 + month-1; consecutive months have consecutive ordinals.
func (p Period) Ordinal() int {
	return p.Year*12 + int(p.Month) - 1
}

func (p Period) Label() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) String() string { return p.Label() }

func (p Period) Next() Period { return FromOrdinal(p.Ordinal() + 1) }

func (p Period) Prev() Period { return FromOrdinal(p.Ordinal() - 1) }

func (p Period) Before(other Period) bool { return p.Ordinal() < other.Ordinal() }

// ShortMonth is the three letter month name, e.g. "Jan".
func (p Period) ShortMonth() string {
	return p.Month.String()[:3]
}

// ShortLabel is the compact month of a line item, e.g. "Jan 2026".
func (p Period) ShortLabel() string {
	return fmt.Sprintf("%s %d", p.ShortMonth(), p.Year)
}

// MonthLabel is the human month of the bill, e.g. "January 2026".
func (p Period) MonthLabel() string {
	return fmt.Sprintf("%s %d", p.Month.String(), p.Year)
}

// FirstDay is midnight UTC of the first day of the month.
func (p Period) FirstDay() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// DueDate places day inside the month, clamped to the month's last day.
func (p Period) DueDate(day int) time.Time {
	if day < 1 {
		day = 1
	}
	last := p.FirstDay().AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC)
}

// AcademicYear is the school year a period belongs to.
type AcademicYear struct {
	StartYear  int
	StartMonth time.Month
}

// AcademicYearOf returns the academic year containing p for a school whose
// year starts in startMonth.
func AcademicYearOf(p Period, startMonth int) AcademicYear {
	if startMonth < 1 || startMonth > 12 {
		startMonth = 1
	}
	year := p.Year
	if int(p.Month) < startMonth {
		year--
	}
	return AcademicYear{StartYear: year, StartMonth: time.Month(startMonth)}
}

// Label is "2026" for calendar-aligned years and "2026-27" otherwise.
func (a AcademicYear) Label() string {
	if a.StartMonth == time.January {
		return strconv.Itoa(a.StartYear)
	}
	return fmt.Sprintf("%d-%02d", a.StartYear, (a.StartYear+1)%100)
}

func (a AcademicYear) FirstPeriod() Period {
	return Period{Year: a.StartYear, Month: a.StartMonth}
}

func (a AcademicYear) LastPeriod() Period {
	return FromOrdinal(a.FirstPeriod().Ordinal() + 11)
}

func (a AcademicYear) Contains(p Period) bool {
	o := p.Ordinal()
	return o >= a.FirstPeriod().Ordinal() && o <= a.LastPeriod().Ordinal()
}

// MonthsIntoYear is 0 for the first month of the academic year.
func (a AcademicYear) MonthsIntoYear(p Period) int {
	return p.Ordinal() - a.FirstPeriod().Ordinal()
}

// Today is the calendar date of now in loc, expressed as midnight UTC so it
// compares directly with stored due dates.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b; negative when b is earlier.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
