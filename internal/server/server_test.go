package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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
	"github.com/smallbiznis/feeledger/internal/ledgerquery"
	"github.com/smallbiznis/feeledger/internal/observability"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"github.com/smallbiznis/feeledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSchool  = snowflake.ID(7)
	testClass   = snowflake.ID(11)
	testStudent = snowflake.ID(101)
)

type testServer struct {
	engine    *gin.Engine
	feeConfig feeconfigdomain.Service
	clk       *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	directory.AddStudent(roster.Student{ID: testStudent, SchoolID: testSchool, ClassID: testClass, Name: "Asha Rao", FatherName: "Ravi Rao", RollNo: "1", AdmissionNumber: "ADM-001", Active: true})

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Fees: fees})
	feeConfig := feeconfigservice.NewService(feeconfigservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: clk, Usage: ledger})
	bills := demandbillservice.NewService(demandbillservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Fees: fees,
		FeeConfig: feeConfig, Ledger: ledger, Resolver: backdue.NewResolver(log), Directory: directory,
	})
	query := ledgerquery.NewService(ledgerquery.ServiceParam{
		Log: log, Clock: clk, Fees: fees, Ledger: ledger, Bills: bills, Directory: directory,
	})

	engine := NewEngine(observability.Config{Environment: "test", LogLevel: "info"})
	NewServer(ServerParams{
		Gin:          engine,
		Cfg:          config.Config{SchoolID: int64(testSchool)},
		Clock:        clk,
		Fees:         fees,
		FeeConfigSvc: feeConfig,
		LedgerSvc:    ledger,
		BillSvc:      bills,
		QuerySvc:     query,
	})
	return &testServer{engine: engine, feeConfig: feeConfig, clk: clk}
}

func (s *testServer) tuition(t *testing.T) feeconfigdomain.FeeStructure {
	t.Helper()
	ctx := schoolctx.WithSchoolID(context.Background(), testSchool)
	category, err := s.feeConfig.CreateCategory(ctx, feeconfigdomain.CreateCategoryRequest{
		Name:      "Tuition Fee",
		Type:      feeconfigdomain.CategoryTypeTuition,
		Frequency: feeconfigdomain.FrequencyMonthly,
	})
	require.NoError(t, err)
	st, err := s.feeConfig.CreateStructure(ctx, feeconfigdomain.CreateStructureRequest{
		AcademicYear:        "2026",
		ClassID:             testClass,
		CategoryID:          category.ID,
		Amount:              5000,
		DueDateDay:          10,
		LateFeePenaltyType:  "FIXED",
		LateFeePenaltyValue: decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	return st
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPreviewReturnsBillDocuments(t *testing.T) {
	s := newTestServer(t)
	s.tuition(t)

	rec := s.do(t, http.MethodPost, "/demand-bill/preview", `{"period":"2026-03","studentId":"101"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw, 1)
	keys := make([]string, 0, len(raw[0]))
	for k := range raw[0] {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"studentId", "studentName", "fatherName", "className", "rollNo",
		"admissionNumber", "billNo", "billDate", "monthLabel", "lineItems",
		"totalCurrentFees", "totalBackDues", "grandTotal",
	}, keys)

	var items []demandbilldomain.DemandBillPreviewItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Equal(t, testStudent, items[0].StudentID)
	assert.Empty(t, items[0].BillNo)
	assert.Equal(t, int64(5000), items[0].GrandTotal)
	assert.Equal(t, []demandbilldomain.LineItem{
		{CategoryName: "Tuition Fee", MonthsUpto: "Mar 2026", Amount: 5000},
	}, items[0].LineItems)

	pdf := s.do(t, http.MethodPost, "/demand-bill/preview-pdf", `{"period":"2026-03","studentId":"101"}`)
	require.Equal(t, http.StatusOK, pdf.Code)
	assert.JSONEq(t, rec.Body.String(), pdf.Body.String())
}

func TestPreviewValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/demand-bill/preview", `{"studentId":"101"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "missing_period", payload.Errors[0].Code)
	assert.Equal(t, "period", payload.Errors[0].Field)

	rec = s.do(t, http.MethodPost, "/demand-bill/preview", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Errors[0].Code)
}

func TestGenerateThenHistory(t *testing.T) {
	s := newTestServer(t)
	s.tuition(t)

	rec := s.do(t, http.MethodPost, "/demand-bill/generate", `{"period":"2026-03","classId":"11"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var generated []demandbilldomain.DemandBillPreviewItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	require.Len(t, generated, 1)
	assert.Equal(t, "DB-2026-000001", generated[0].BillNo)

	retry := s.do(t, http.MethodPost, "/demand-bill/generate", `{"period":"2026-03","studentId":"101"}`)
	require.Equal(t, http.StatusOK, retry.Code)
	assert.JSONEq(t, rec.Body.String(), retry.Body.String())

	history := s.do(t, http.MethodGet, "/demand-bill/student/101", nil)
	require.Equal(t, http.StatusOK, history.Code)
	assert.JSONEq(t, rec.Body.String(), history.Body.String())

	classHistory := s.do(t, http.MethodGet, "/demand-bill/class/11/history", nil)
	require.Equal(t, http.StatusOK, classHistory.Code)
	assert.JSONEq(t, rec.Body.String(), classHistory.Body.String())

	summary := s.do(t, http.MethodGet, "/demand-bill/class/11/dues-summary", nil)
	require.Equal(t, http.StatusOK, summary.Code)
	var dues ledgerquery.DuesSummary
	require.NoError(t, json.Unmarshal(summary.Body.Bytes(), &dues))
	assert.Equal(t, int64(5000), dues.TotalBilled)
	assert.Equal(t, int64(5000), dues.TotalPending)
	assert.Equal(t, 1, dues.StudentsWithDues)
}

func TestPaymentsAndStatement(t *testing.T) {
	s := newTestServer(t)
	st := s.tuition(t)

	rec := s.do(t, http.MethodPost, "/demand-bill/generate", `{"period":"2026-03","studentId":"101"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := map[string]any{
		"studentId":      testStudent.String(),
		"feeStructureId": st.ID.String(),
		"period":         "2026-03",
		"amount":         2000,
		"reference":      "rcpt-1",
	}
	paid := s.do(t, http.MethodPost, "/fee-payments", body)
	require.Equal(t, http.StatusCreated, paid.Code, paid.Body.String())
	var created struct {
		Data ledgerdomain.PaymentResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(paid.Body.Bytes(), &created))
	assert.Equal(t, ledgerdomain.StatusPartial, created.Data.Status)
	assert.Equal(t, int64(3000), created.Data.Record.PendingAmount)

	replay := s.do(t, http.MethodPost, "/fee-payments", body)
	require.Equal(t, http.StatusOK, replay.Code)

	body["amount"] = 2500
	reused := s.do(t, http.MethodPost, "/fee-payments", body)
	require.Equal(t, http.StatusConflict, reused.Code)
	assert.Equal(t, "conflict", decodeError(t, reused).Type)

	statement := s.do(t, http.MethodGet, "/students/101/statement?as_of=2026-03-20", nil)
	require.Equal(t, http.StatusOK, statement.Code, statement.Body.String())
	var stmt struct {
		Data ledgerquery.Statement `json:"data"`
	}
	require.NoError(t, json.Unmarshal(statement.Body.Bytes(), &stmt))
	require.Len(t, stmt.Data.Lines, 1)
	assert.Equal(t, ledgerdomain.StatusOverdue, stmt.Data.Lines[0].Status)
	assert.Equal(t, int64(2000), stmt.Data.TotalPaid)
	assert.Len(t, stmt.Data.Lines[0].Transactions, 2)
}

func TestFeeCategoryAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/fee-categories", `{"name":"Library Fee","type":"LIBRARY","frequency":"ANNUAL"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data feeconfigdomain.FeeCategory `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, feeconfigdomain.FrequencyAnnual, created.Data.Frequency)

	dup := s.do(t, http.MethodPost, "/fee-categories", `{"name":"Library Fee","type":"LIBRARY","frequency":"ANNUAL"}`)
	assert.Equal(t, http.StatusConflict, dup.Code)

	bad := s.do(t, http.MethodPost, "/fee-categories", `{"name":"Lab","type":"LAB","frequency":"WEEKLY"}`)
	require.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "frequency", decodeError(t, bad).Errors[0].Field)

	list := s.do(t, http.MethodGet, "/fee-categories", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Data []feeconfigdomain.FeeCategory `json:"data"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	assert.Len(t, listed.Data, 1)

	deactivated := s.do(t, http.MethodPost, "/fee-categories/"+created.Data.ID.String()+"/deactivate", nil)
	require.Equal(t, http.StatusOK, deactivated.Code)

	list = s.do(t, http.MethodGet, "/fee-categories", nil)
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	assert.Empty(t, listed.Data)
}

func TestSchoolHeader(t *testing.T) {
	s := newTestServer(t)
	s.tuition(t)

	rec := s.do(t, http.MethodPost, "/demand-bill/preview", `{"period":"2026-03","studentId":"101"}`, schoolctx.HeaderName, "abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Another school cannot see this school's students.
	rec = s.do(t, http.MethodPost, "/demand-bill/preview", `{"period":"2026-03","studentId":"101"}`, schoolctx.HeaderName, "99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteAndIDs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)

	rec = s.do(t, http.MethodGet, "/demand-bill/student/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/demand-bill/student/555", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		typ    string
	}{
		"validation":  {feeerr.Validation("bad", "x", "bad x"), http.StatusBadRequest, "validation_error"},
		"not found":   {feeerr.NotFound("gone", "gone"), http.StatusNotFound, "not_found"},
		"conflict":    {feeerr.Conflict("busy", "busy", nil), http.StatusConflict, "conflict"},
		"persistence": {feeerr.Persistence("db down", errors.New("dial tcp")), http.StatusServiceUnavailable, "service_unavailable"},
		"unknown":     {errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}
