package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"github.com/smallbiznis/feeledger/internal/latefee"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"github.com/smallbiznis/feeledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSchool = snowflake.ID(7)

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) LastBilledPeriod(ctx context.Context, schoolID, structureID snowflake.ID) (int, bool, error) {
	args := m.Called(ctx, schoolID, structureID)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func newTestService(t *testing.T, usage domain.StructureUsage) domain.Service {
	t.Helper()
	db := testutil.OpenDB(t, &domain.FeeCategory{}, &domain.FeeStructure{})
	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
		Usage: usage,
	})
}

func schoolCtx() context.Context {
	return schoolctx.WithSchoolID(context.Background(), testSchool)
}

func TestCreateCategory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := schoolCtx()

	category, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{
		Name:      "Tuition Fee",
		Type:      "tuition",
		Frequency: "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, "tuition-fee", category.Code)
	assert.Equal(t, domain.CategoryTypeTuition, category.Type)
	assert.Equal(t, domain.FrequencyMonthly, category.Frequency)
	assert.True(t, category.IsMandatory)
	assert.True(t, category.Active)

	_, err = svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "tuition fee", Type: "TUITION", Frequency: "MONTHLY"})
	assert.ErrorIs(t, err, feeerr.ErrConflict)

	_, err = svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Bus", Type: "FERRY", Frequency: "MONTHLY"})
	assert.ErrorIs(t, err, domain.ErrInvalidCategoryType)

	_, err = svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Bus", Type: "TRANSPORT", Frequency: "WEEKLY"})
	assert.ErrorIs(t, err, feeerr.ErrValidation)

	_, err = svc.CreateCategory(context.Background(), domain.CreateCategoryRequest{Name: "Bus", Type: "TRANSPORT", Frequency: "MONTHLY"})
	assert.ErrorIs(t, err, domain.ErrInvalidSchool)
}

func TestDeactivatedCategoryIsNotBilled(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := schoolCtx()
	classID := snowflake.ID(100)

	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)
	lab, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Lab", Type: "LAB", Frequency: "MONTHLY"})
	require.NoError(t, err)

	_, err = svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: classID, CategoryID: tuition.ID, Amount: 5000, DueDateDay: 10})
	require.NoError(t, err)
	_, err = svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: classID, CategoryID: lab.ID, Amount: 700, DueDateDay: 10})
	require.NoError(t, err)

	jan := period.Period{Year: 2026, Month: time.January}
	active, err := svc.GetActiveStructures(ctx, "2026", classID, jan)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Lab", active[0].Category.Name)
	assert.Equal(t, "Tuition", active[1].Category.Name)

	_, err = svc.DeactivateCategory(ctx, lab.ID)
	require.NoError(t, err)

	active, err = svc.GetActiveStructures(ctx, "2026", classID, jan)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Tuition", active[0].Category.Name)

	all, err := svc.ListCategories(ctx, domain.ListCategoriesRequest{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	activeOnly, err := svc.ListCategories(ctx, domain.ListCategoriesRequest{})
	require.NoError(t, err)
	assert.Len(t, activeOnly, 1)

	// Still readable for historical bills.
	got, err := svc.GetCategory(ctx, lab.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestGetActiveStructuresNotFound(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.GetActiveStructures(schoolCtx(), "2026", 1, period.Period{Year: 2026, Month: time.March})
	assert.ErrorIs(t, err, feeerr.ErrNotFound)
	assert.True(t, domain.IsNoStructures(err))

	snapshot, err := svc.Snapshot(schoolCtx(), "2026", 1, period.Period{Year: 2026, Month: time.March})
	require.NoError(t, err)
	assert.True(t, snapshot.Empty())
}

func TestSingleActiveStructurePerCategory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := schoolCtx()

	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)

	req := domain.CreateStructureRequest{AcademicYear: "2026", ClassID: 100, CategoryID: tuition.ID, Amount: 5000, DueDateDay: 10}
	first, err := svc.CreateStructure(ctx, req)
	require.NoError(t, err)

	_, err = svc.CreateStructure(ctx, req)
	assert.ErrorIs(t, err, domain.ErrActiveStructureTaken)

	_, err = svc.DeactivateStructure(ctx, first.ID)
	require.NoError(t, err)

	_, err = svc.CreateStructure(ctx, req)
	require.NoError(t, err)
}

func TestCreateStructureValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := schoolCtx()
	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)

	base := domain.CreateStructureRequest{AcademicYear: "2026", ClassID: 100, CategoryID: tuition.ID, Amount: 5000, DueDateDay: 10}
	cases := map[string]func(*domain.CreateStructureRequest){
		"negative amount": func(r *domain.CreateStructureRequest) { r.Amount = -1 },
		"due day":         func(r *domain.CreateStructureRequest) { r.DueDateDay = 32 },
		"year":            func(r *domain.CreateStructureRequest) { r.AcademicYear = "" },
		"class":           func(r *domain.CreateStructureRequest) { r.ClassID = 0 },
		"penalty type":    func(r *domain.CreateStructureRequest) { r.LateFeePenaltyType = "DAILY" },
		"penalty value":   func(r *domain.CreateStructureRequest) { r.LateFeePenaltyType = "PERCENTAGE"; r.LateFeePenaltyValue = decimal.NewFromInt(150) },
		"effective from":  func(r *domain.CreateStructureRequest) { r.EffectiveFrom = "2026-13" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := svc.CreateStructure(ctx, req)
			assert.ErrorIs(t, err, feeerr.ErrValidation)
		})
	}

	req := base
	req.CategoryID = 999
	_, err = svc.CreateStructure(ctx, req)
	assert.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestAmendUnbilledStructureInPlace(t *testing.T) {
	usage := new(mockUsage)
	svc := newTestService(t, usage)
	ctx := schoolCtx()

	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)
	structure, err := svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: 100, CategoryID: tuition.ID, Amount: 5000, DueDateDay: 10})
	require.NoError(t, err)

	usage.On("LastBilledPeriod", mock.Anything, testSchool, structure.ID).Return(0, false, nil).Once()

	amount := int64(5500)
	amended, err := svc.AmendStructure(ctx, structure.ID, domain.AmendStructureRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, structure.ID, amended.ID)
	assert.Equal(t, int64(5500), amended.Amount)
	assert.Equal(t, int64(2), amended.Version)
	usage.AssertExpectations(t)
}

func TestAmendBilledStructureCreatesSuccessor(t *testing.T) {
	usage := new(mockUsage)
	svc := newTestService(t, usage)
	ctx := schoolCtx()
	classID := snowflake.ID(100)

	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)
	structure, err := svc.CreateStructure(ctx, domain.CreateStructureRequest{
		AcademicYear:        "2026",
		ClassID:             classID,
		CategoryID:          tuition.ID,
		Amount:              5000,
		DueDateDay:          10,
		LateFeePenaltyType:  string(latefee.PenaltyTypeFixed),
		LateFeePenaltyValue: decimal.NewFromInt(200),
	})
	require.NoError(t, err)

	feb := period.Period{Year: 2026, Month: time.February}
	usage.On("LastBilledPeriod", mock.Anything, testSchool, structure.ID).Return(feb.Ordinal(), true, nil).Once()

	amount := int64(6000)
	successor, err := svc.AmendStructure(ctx, structure.ID, domain.AmendStructureRequest{Amount: &amount, EffectiveFrom: "2026-01"})
	require.NoError(t, err)
	assert.NotEqual(t, structure.ID, successor.ID)
	assert.Equal(t, feb.Next().Ordinal(), successor.EffectiveFromPeriod)
	assert.Equal(t, int64(6000), successor.Amount)
	assert.Equal(t, latefee.PenaltyTypeFixed, successor.LateFeePenaltyType)

	old, err := svc.GetStructure(ctx, structure.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, successor.ID, *old.SupersededBy)
	require.NotNil(t, old.EffectiveToPeriod)
	assert.Equal(t, successor.EffectiveFromPeriod, *old.EffectiveToPeriod)

	// Billed months keep their price; the successor applies from March.
	for _, p := range []period.Period{feb.Prev(), feb} {
		got, err := svc.GetActiveStructures(ctx, "2026", classID, p)
		require.NoError(t, err, p.Label())
		require.Len(t, got, 1)
		assert.Equal(t, structure.ID, got[0].ID)
		assert.Equal(t, int64(5000), got[0].Amount)
	}
	march, err := svc.GetActiveStructures(ctx, "2026", classID, feb.Next())
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Equal(t, successor.ID, march[0].ID)
	assert.Equal(t, int64(6000), march[0].Amount)

	// The successor is now the category's open structure.
	_, err = svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: classID, CategoryID: tuition.ID, Amount: 1, DueDateDay: 10})
	assert.ErrorIs(t, err, domain.ErrActiveStructureTaken)

	_, err = svc.AmendStructure(ctx, structure.ID, domain.AmendStructureRequest{Amount: &amount})
	assert.ErrorIs(t, err, domain.ErrStructureInactive)
	usage.AssertExpectations(t)
}

func TestDeferringSuccessorExtendsPredecessor(t *testing.T) {
	usage := new(mockUsage)
	svc := newTestService(t, usage)
	ctx := schoolCtx()
	classID := snowflake.ID(100)

	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)
	structure, err := svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: classID, CategoryID: tuition.ID, Amount: 5000, DueDateDay: 10})
	require.NoError(t, err)

	march := period.Period{Year: 2026, Month: time.March}
	usage.On("LastBilledPeriod", mock.Anything, testSchool, structure.ID).Return(march.Ordinal(), true, nil).Once()
	amount := int64(6000)
	successor, err := svc.AmendStructure(ctx, structure.ID, domain.AmendStructureRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, march.Next().Ordinal(), successor.EffectiveFromPeriod)

	// The successor is still unbilled, so it is edited in place.
	usage.On("LastBilledPeriod", mock.Anything, testSchool, successor.ID).Return(0, false, nil).Once()
	_, err = svc.AmendStructure(ctx, successor.ID, domain.AmendStructureRequest{EffectiveFrom: "2026-06"})
	require.NoError(t, err)

	may, err := svc.GetActiveStructures(ctx, "2026", classID, period.Period{Year: 2026, Month: time.May})
	require.NoError(t, err)
	require.Len(t, may, 1)
	assert.Equal(t, int64(5000), may[0].Amount)
	june, err := svc.GetActiveStructures(ctx, "2026", classID, period.Period{Year: 2026, Month: time.June})
	require.NoError(t, err)
	require.Len(t, june, 1)
	assert.Equal(t, int64(6000), june[0].Amount)
	usage.AssertExpectations(t)
}

func TestListStructures(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := schoolCtx()

	tuition, err := svc.CreateCategory(ctx, domain.CreateCategoryRequest{Name: "Tuition", Type: "TUITION", Frequency: "MONTHLY"})
	require.NoError(t, err)
	_, err = svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: 100, CategoryID: tuition.ID, Amount: 5000, DueDateDay: 10})
	require.NoError(t, err)
	_, err = svc.CreateStructure(ctx, domain.CreateStructureRequest{AcademicYear: "2026", ClassID: 200, CategoryID: tuition.ID, Amount: 6000, DueDateDay: 10})
	require.NoError(t, err)

	all, err := svc.ListStructures(ctx, domain.ListStructuresRequest{AcademicYear: "2026"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	class, err := svc.ListStructures(ctx, domain.ListStructuresRequest{AcademicYear: "2026", ClassID: 200})
	require.NoError(t, err)
	require.Len(t, class, 1)
	assert.Equal(t, int64(6000), class[0].Amount)
	assert.Equal(t, "Tuition", class[0].Category.Name)
}

func TestBillableInPeriod(t *testing.T) {
	apr := period.Period{Year: 2026, Month: time.April}
	may := period.Period{Year: 2026, Month: time.May}
	jul := period.Period{Year: 2026, Month: time.July}

	assert.True(t, domain.BillableInPeriod(domain.FrequencyMonthly, may, 4))
	assert.True(t, domain.BillableInPeriod(domain.FrequencyQuarterly, apr, 4))
	assert.False(t, domain.BillableInPeriod(domain.FrequencyQuarterly, may, 4))
	assert.True(t, domain.BillableInPeriod(domain.FrequencyQuarterly, jul, 4))
	assert.True(t, domain.BillableInPeriod(domain.FrequencyAnnual, may, 4))
	assert.False(t, domain.BillableInPeriod(domain.Frequency("WEEKLY"), may, 4))
}
