// Package ledgerquery answers read-only questions about issued bills and the
// fee ledger.
package ledgerquery

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	demandbilldomain "github.com/smallbiznis/feeledger/internal/demandbill/domain"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledgerquery.service",
	fx.Provide(NewService),
)

var ErrInvalidSchool = feeerr.Validation("invalid_school", "school_id", "school is required")

type DuesSummary struct {
	ClassID          snowflake.ID `json:"classId"`
	TotalBilled      int64        `json:"totalBilled"`
	TotalPaid        int64        `json:"totalPaid"`
	TotalPending     int64        `json:"totalPending"`
	StudentsWithDues int          `json:"studentsWithDues"`
	Students         int          `json:"students"`
}

type TransactionRef struct {
	ID         snowflake.ID                 `json:"id"`
	Kind       ledgerdomain.TransactionKind `json:"kind"`
	Amount     int64                        `json:"amount"`
	Reference  string                       `json:"reference"`
	BillNo     string                       `json:"billNo,omitempty"`
	OccurredAt time.Time                    `json:"occurredAt"`
}

type StatementLine struct {
	RecordID        snowflake.ID        `json:"recordId"`
	FeeStructureID  snowflake.ID        `json:"feeStructureId"`
	CategoryName    string              `json:"categoryName"`
	Period          string              `json:"period"`
	AcademicYear    string              `json:"academicYear"`
	DueDate         string              `json:"dueDate"`
	BaseAmount      int64               `json:"baseAmount"`
	LateFeeAmount   int64               `json:"lateFeeAmount"`
	TotalAmount     int64               `json:"totalAmount"`
	PaidAmount      int64               `json:"paidAmount"`
	PendingAmount   int64               `json:"pendingAmount"`
	Overpaid        int64               `json:"overpaid"`
	Status          ledgerdomain.Status `json:"status"`
	LastPaymentDate *time.Time          `json:"lastPaymentDate,omitempty"`
	Transactions    []TransactionRef    `json:"transactions"`
}

type Statement struct {
	StudentID    snowflake.ID    `json:"studentId"`
	StudentName  string          `json:"studentName"`
	ClassName    string          `json:"className"`
	AsOf         string          `json:"asOf"`
	TotalBilled  int64           `json:"totalBilled"`
	TotalPaid    int64           `json:"totalPaid"`
	TotalPending int64           `json:"totalPending"`
	Lines        []StatementLine `json:"lines"`
}

type DueReminder struct {
	StudentID    snowflake.ID `json:"studentId"`
	StudentName  string       `json:"studentName"`
	RollNo       string       `json:"rollNo"`
	TotalPending int64        `json:"totalPending"`
	OverdueCount int          `json:"overdueCount"`
	OldestPeriod string       `json:"oldestPeriod"`
}

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Fees      *config.FeeConfigHolder `optional:"true"`
	Ledger    ledgerdomain.Service
	Bills     demandbilldomain.Service
	Directory roster.Directory
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	fees      *config.FeeConfigHolder
	ledger    ledgerdomain.Service
	bills     demandbilldomain.Service
	directory roster.Directory
}

func NewService(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		log:       p.Log.Named("ledgerquery.service"),
		clock:     clk,
		fees:      p.Fees,
		ledger:    p.Ledger,
		bills:     p.Bills,
		directory: p.Directory,
	}
}

// Today is the current calendar date in the school timezone.
func (s *Service) Today() time.Time {
	loc := time.UTC
	if s.fees != nil {
		loc = s.fees.Get().Location()
	}
	return period.Today(s.clock.Now(), loc)
}

// StudentHistory lists the student's issued bills, oldest first.
func (s *Service) StudentHistory(ctx context.Context, studentID snowflake.ID) ([]demandbilldomain.DemandBillPreviewItem, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return nil, ErrInvalidSchool
	}
	if _, err := s.directory.GetStudent(ctx, schoolID, studentID); err != nil {
		return nil, err
	}
	bills, err := s.bills.StudentBills(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return previewItems(bills), nil
}

// ClassHistory lists the issued bills of every student on the class roster,
// oldest period first and roster order within a period.
func (s *Service) ClassHistory(ctx context.Context, classID snowflake.ID) ([]demandbilldomain.DemandBillPreviewItem, error) {
	students, err := s.classRoster(ctx, classID)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return []demandbilldomain.DemandBillPreviewItem{}, nil
	}

	rank := make(map[snowflake.ID]int, len(students))
	ids := make([]snowflake.ID, 0, len(students))
	for i, st := range students {
		rank[st.ID] = i
		ids = append(ids, st.ID)
	}
	bills, err := s.bills.BillsForStudents(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bills, func(i, j int) bool {
		if bills[i].PeriodOrdinal != bills[j].PeriodOrdinal {
			return bills[i].PeriodOrdinal < bills[j].PeriodOrdinal
		}
		return rank[bills[i].StudentID] < rank[bills[j].StudentID]
	})
	return previewItems(bills), nil
}

func (s *Service) ClassDuesSummary(ctx context.Context, classID snowflake.ID) (DuesSummary, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return DuesSummary{}, ErrInvalidSchool
	}
	students, err := s.classRoster(ctx, classID)
	if err != nil {
		return DuesSummary{}, err
	}
	ids := make([]snowflake.ID, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	records, err := s.ledger.RecordsForStudents(ctx, schoolID, ids)
	if err != nil {
		return DuesSummary{}, err
	}

	summary := DuesSummary{ClassID: classID, Students: len(students)}
	withDues := map[snowflake.ID]struct{}{}
	for _, rec := range records {
		summary.TotalBilled += rec.TotalAmount
		summary.TotalPaid += rec.PaidAmount
		summary.TotalPending += rec.PendingAmount
		if rec.PendingAmount > 0 {
			withDues[rec.StudentID] = struct{}{}
		}
	}
	summary.StudentsWithDues = len(withDues)
	return summary, nil
}

// StudentStatement lists every record of the student with its status as of
// today and the transactions posted to it.
func (s *Service) StudentStatement(ctx context.Context, studentID snowflake.ID, today time.Time) (Statement, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return Statement{}, ErrInvalidSchool
	}
	student, err := s.directory.GetStudent(ctx, schoolID, studentID)
	if err != nil {
		return Statement{}, err
	}
	records, err := s.ledger.StudentRecords(ctx, schoolID, studentID)
	if err != nil {
		return Statement{}, err
	}
	ids := make([]snowflake.ID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	txns, err := s.ledger.Transactions(ctx, schoolID, ids)
	if err != nil {
		return Statement{}, err
	}
	bills, err := s.bills.StudentBills(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	billNos := make(map[snowflake.ID]string, len(bills))
	for _, b := range bills {
		billNos[b.ID] = b.BillNo
	}

	out := Statement{
		StudentID:   student.ID,
		StudentName: student.Name,
		ClassName:   student.ClassName,
		AsOf:        today.Format(demandbilldomain.BillDateLayout),
		Lines:       make([]StatementLine, 0, len(records)),
	}
	for _, rec := range records {
		line := StatementLine{
			RecordID:        rec.ID,
			FeeStructureID:  rec.FeeStructureID,
			CategoryName:    rec.CategoryName,
			Period:          rec.PeriodLabel,
			AcademicYear:    rec.AcademicYear,
			DueDate:         rec.DueDate.Format(demandbilldomain.BillDateLayout),
			BaseAmount:      rec.BaseAmount,
			LateFeeAmount:   rec.LateFeeAmount,
			TotalAmount:     rec.TotalAmount,
			PaidAmount:      rec.PaidAmount,
			PendingAmount:   rec.PendingAmount,
			Overpaid:        rec.Overpaid(),
			Status:          rec.StatusAt(today),
			LastPaymentDate: rec.LastPaymentDate,
			Transactions:    []TransactionRef{},
		}
		for _, txn := range txns[rec.ID] {
			line.Transactions = append(line.Transactions, TransactionRef{
				ID:         txn.ID,
				Kind:       txn.Kind,
				Amount:     txn.Amount,
				Reference:  txn.Reference,
				BillNo:     billNos[txn.BillID],
				OccurredAt: txn.OccurredAt,
			})
		}
		out.TotalBilled += rec.TotalAmount
		out.TotalPaid += rec.PaidAmount
		out.TotalPending += rec.PendingAmount
		out.Lines = append(out.Lines, line)
	}
	return out, nil
}

// DueReminders lists the class's students that still owe money.
func (s *Service) DueReminders(ctx context.Context, classID snowflake.ID) ([]DueReminder, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return nil, ErrInvalidSchool
	}
	students, err := s.classRoster(ctx, classID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	records, err := s.ledger.RecordsForStudents(ctx, schoolID, ids)
	if err != nil {
		return nil, err
	}

	today := s.Today()
	byStudent := make(map[snowflake.ID]*DueReminder, len(students))
	oldest := make(map[snowflake.ID]int, len(students))
	for _, rec := range records {
		if rec.PendingAmount <= 0 {
			continue
		}
		due, ok := byStudent[rec.StudentID]
		if !ok {
			due = &DueReminder{StudentID: rec.StudentID}
			byStudent[rec.StudentID] = due
			oldest[rec.StudentID] = rec.PeriodOrdinal
		}
		due.TotalPending += rec.PendingAmount
		if rec.StatusAt(today) == ledgerdomain.StatusOverdue {
			due.OverdueCount++
		}
		if rec.PeriodOrdinal < oldest[rec.StudentID] {
			oldest[rec.StudentID] = rec.PeriodOrdinal
		}
	}

	out := make([]DueReminder, 0, len(byStudent))
	for _, st := range students {
		due, ok := byStudent[st.ID]
		if !ok {
			continue
		}
		due.StudentName = st.Name
		due.RollNo = st.RollNo
		due.OldestPeriod = period.FromOrdinal(oldest[st.ID]).Label()
		out = append(out, *due)
	}
	return out, nil
}

func (s *Service) classRoster(ctx context.Context, classID snowflake.ID) ([]roster.Student, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return nil, ErrInvalidSchool
	}
	if _, err := s.directory.GetClass(ctx, schoolID, classID); err != nil {
		return nil, err
	}
	return s.directory.GetStudentsByClass(ctx, schoolID, classID)
}

func previewItems(bills []demandbilldomain.DemandBill) []demandbilldomain.DemandBillPreviewItem {
	out := make([]demandbilldomain.DemandBillPreviewItem, 0, len(bills))
	for _, b := range bills {
		out = append(out, b.PreviewItem())
	}
	return out
}
