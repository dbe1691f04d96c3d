package ledgerquery

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/backdue"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	demandbilldomain "github.com/smallbiznis/feeledger/internal/demandbill/domain"
	demandbillservice "github.com/smallbiznis/feeledger/internal/demandbill/service"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	feeconfigservice "github.com/smallbiznis/feeledger/internal/feeconfig/service"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/feeledger/internal/ledger/service"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"github.com/smallbiznis/feeledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSchool = snowflake.ID(7)
	testClass  = snowflake.ID(11)
	studentA   = snowflake.ID(101)
	studentB   = snowflake.ID(102)
)

type harness struct {
	clk       *clock.FakeClock
	query     *Service
	bills     demandbilldomain.Service
	ledger    ledgerdomain.Service
	structure feeconfigdomain.FeeStructure
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenDB(t,
		&feeconfigdomain.FeeCategory{},
		&feeconfigdomain.FeeStructure{},
		&ledgerdomain.StudentFeeRecord{},
		&ledgerdomain.FeeTransaction{},
		&ledgerdomain.CategoryCharge{},
		&demandbilldomain.DemandBill{},
		&demandbilldomain.DemandBillLine{},
		&demandbilldomain.BillSequence{},
	)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC))
	cfg := config.DefaultFeeConfig()
	cfg.AcademicYearStartMonth = 1
	fees := config.NewStaticFeeConfigHolder(cfg)

	directory := roster.NewStaticDirectory()
	directory.AddClass(roster.Class{ID: testClass, SchoolID: testSchool, Name: "Grade 5"})
	directory.AddStudent(roster.Student{ID: studentA, SchoolID: testSchool, ClassID: testClass, Name: "Asha Rao", RollNo: "1", Active: true})
	directory.AddStudent(roster.Student{ID: studentB, SchoolID: testSchool, ClassID: testClass, Name: "Bilal Khan", RollNo: "2", Active: true})

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Fees: fees})
	feeConfig := feeconfigservice.NewService(feeconfigservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: clk, Usage: ledger})
	bills := demandbillservice.NewService(demandbillservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Fees: fees,
		FeeConfig: feeConfig, Ledger: ledger, Resolver: backdue.NewResolver(log), Directory: directory,
	})

	ctx := ctxFor()
	category, err := feeConfig.CreateCategory(ctx, feeconfigdomain.CreateCategoryRequest{Name: "Tuition Fee", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)
	structure, err := feeConfig.CreateStructure(ctx, feeconfigdomain.CreateStructureRequest{
		AcademicYear:        "2026",
		ClassID:             testClass,
		CategoryID:          category.ID,
		Amount:              5000,
		DueDateDay:          10,
		LateFeePenaltyType:  "FIXED",
		LateFeePenaltyValue: decimal.NewFromInt(200),
	})
	require.NoError(t, err)

	return &harness{
		clk:       clk,
		bills:     bills,
		ledger:    ledger,
		structure: structure,
		query: NewService(ServiceParam{
			Log: log, Clock: clk, Fees: fees, Ledger: ledger, Bills: bills, Directory: directory,
		}),
	}
}

func ctxFor() context.Context {
	return schoolctx.WithSchoolID(context.Background(), testSchool)
}

func TestHistoryAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := ctxFor()

	_, err := h.bills.Generate(ctx, demandbilldomain.Request{Period: "2026-03", ClassID: testClass})
	require.NoError(t, err)
	h.clk.Set(time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC))
	_, err = h.bills.Generate(ctx, demandbilldomain.Request{Period: "2026-04", ClassID: testClass})
	require.NoError(t, err)

	_, err = h.ledger.ApplyPayment(ctx, ledgerdomain.PaymentRequest{
		StudentID: studentB, FeeStructureID: h.structure.ID, Period: "2026-03", Amount: 5200, Reference: "rcpt-b-1",
	})
	require.NoError(t, err)

	history, err := h.query.StudentHistory(ctx, studentA)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "March 2026", history[0].MonthLabel)
	assert.Equal(t, int64(10200), history[1].GrandTotal)

	classHistory, err := h.query.ClassHistory(ctx, testClass)
	require.NoError(t, err)
	require.Len(t, classHistory, 4)
	assert.Equal(t, studentA, classHistory[0].StudentID)
	assert.Equal(t, studentB, classHistory[1].StudentID)
	assert.Equal(t, "April 2026", classHistory[2].MonthLabel)

	summary, err := h.query.ClassDuesSummary(ctx, testClass)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Students)
	assert.Equal(t, 2, summary.StudentsWithDues)
	assert.Equal(t, int64(20400), summary.TotalBilled)
	assert.Equal(t, int64(5200), summary.TotalPaid)
	assert.Equal(t, int64(15200), summary.TotalPending)
	assert.Equal(t, summary.TotalBilled-summary.TotalPaid, summary.TotalPending)

	reminders, err := h.query.DueReminders(ctx, testClass)
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	assert.Equal(t, int64(10200), reminders[0].TotalPending)
	assert.Equal(t, 2, reminders[0].OverdueCount)
	assert.Equal(t, "2026-03", reminders[0].OldestPeriod)
	assert.Equal(t, int64(5000), reminders[1].TotalPending)
	assert.Equal(t, "2026-04", reminders[1].OldestPeriod)
}

func TestStudentStatement(t *testing.T) {
	h := newHarness(t)
	ctx := ctxFor()

	march, err := h.bills.Generate(ctx, demandbilldomain.Request{Period: "2026-03", StudentID: studentA})
	require.NoError(t, err)
	_, err = h.ledger.ApplyPayment(ctx, ledgerdomain.PaymentRequest{
		StudentID: studentA, FeeStructureID: h.structure.ID, Period: "2026-03", Amount: 2000, Reference: "rcpt-a-1",
	})
	require.NoError(t, err)

	statement, err := h.query.StudentStatement(ctx, studentA, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", statement.StudentName)
	assert.Equal(t, "Grade 5", statement.ClassName)
	require.Len(t, statement.Lines, 1)

	line := statement.Lines[0]
	assert.Equal(t, ledgerdomain.StatusPartial, line.Status)
	assert.Equal(t, int64(3000), line.PendingAmount)
	require.Len(t, line.Transactions, 2)
	assert.Equal(t, ledgerdomain.TransactionKindCharge, line.Transactions[0].Kind)
	assert.Equal(t, march[0].BillNo, line.Transactions[0].BillNo)
	assert.Equal(t, "rcpt-a-1", line.Transactions[1].Reference)
	assert.Empty(t, line.Transactions[1].BillNo)

	overdue, err := h.query.StudentStatement(ctx, studentA, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusOverdue, overdue.Lines[0].Status)
}

func TestQueriesRequireKnownTargets(t *testing.T) {
	h := newHarness(t)
	ctx := ctxFor()

	_, err := h.query.StudentHistory(ctx, snowflake.ID(999))
	assert.ErrorIs(t, err, feeerr.ErrNotFound)

	_, err = h.query.ClassDuesSummary(ctx, snowflake.ID(999))
	assert.ErrorIs(t, err, feeerr.ErrNotFound)

	_, err = h.query.ClassHistory(context.Background(), testClass)
	assert.ErrorIs(t, err, ErrInvalidSchool)
}
