package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/feeledger/internal/backdue"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	"github.com/smallbiznis/feeledger/internal/demandbill"
	demandbilldomain "github.com/smallbiznis/feeledger/internal/demandbill/domain"
	"github.com/smallbiznis/feeledger/internal/feeconfig"
	"github.com/smallbiznis/feeledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/ledgerquery"
	"github.com/smallbiznis/feeledger/internal/locking"
	"github.com/smallbiznis/feeledger/internal/migration"
	"github.com/smallbiznis/feeledger/internal/observability"
	"github.com/smallbiznis/feeledger/internal/reminder"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/internal/scheduler"
	"github.com/smallbiznis/feeledger/internal/server"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	app        *fx.App
	server     *server.Server
	db         *gorm.DB
	baseURL    string
	scheduler  *scheduler.Scheduler
	dispatcher *recordingDispatcher
	httpSrv    *httptest.Server
}

var env *testEnv

// The demo school is seeded for the academic year containing this instant.
var startOfTerm = time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_SeededSchool(t *testing.T) {
	if got := countRows(t, env.db, "students", "active = ?", true); got != 3 {
		t.Fatalf("expected 3 seeded students, got %d", got)
	}
	if got := countRows(t, env.db, "fee_structures", "academic_year = ?", "2026-27"); got != 4 {
		t.Fatalf("expected 4 fee structures for 2026-27, got %d", got)
	}
}

func TestE2E_MonthlyBillingCycle(t *testing.T) {
	client := &http.Client{Timeout: 15 * time.Second}
	classID := seededClassID(t)
	request := map[string]any{"period": "2026-04", "classId": classID.String()}

	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/demand-bill/preview", request)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var preview []demandbilldomain.DemandBillPreviewItem
	decode(t, body, &preview)
	if len(preview) != 3 {
		t.Fatalf("expected 3 preview items, got %d", len(preview))
	}
	for _, item := range preview {
		if item.BillNo != "" {
			t.Fatalf("preview must not assign bill numbers, got %q", item.BillNo)
		}
		if len(item.LineItems) != 4 {
			t.Fatalf("expected 4 line items for %s, got %d", item.StudentName, len(item.LineItems))
		}
		if item.GrandTotal != 10700 {
			t.Fatalf("expected grand total 10700 for %s, got %d", item.StudentName, item.GrandTotal)
		}
	}
	if got := countRows(t, env.db, "student_fee_records", "1 = 1"); got != 0 {
		t.Fatalf("preview wrote %d ledger records", got)
	}

	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/demand-bill/generate", request)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var generated []demandbilldomain.DemandBillPreviewItem
	decode(t, body, &generated)
	if len(generated) != 3 {
		t.Fatalf("expected 3 generated bills, got %d", len(generated))
	}
	billNos := map[string]bool{}
	for _, item := range generated {
		billNos[item.BillNo] = true
	}
	for _, want := range []string{"DB-2026-000001", "DB-2026-000002", "DB-2026-000003"} {
		if !billNos[want] {
			t.Fatalf("missing bill number %s in %v", want, billNos)
		}
	}
	if got := countRows(t, env.db, "student_fee_records", "period_label = ?", "2026-04"); got != 12 {
		t.Fatalf("expected 12 ledger records, got %d", got)
	}

	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/demand-bill/generate", request)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("regenerate: expected 200, got %d: %s", resp.StatusCode, body)
	}
	if got := countRows(t, env.db, "demand_bills", "1 = 1"); got != 3 {
		t.Fatalf("regenerating created new bills, got %d", got)
	}

	student := generated[0].StudentID
	tuition := structureID(t, "tuition-fee")
	payment := map[string]any{
		"studentId":      student.String(),
		"feeStructureId": tuition.String(),
		"period":         "2026-04",
		"amount":         5000,
		"reference":      "counter-0001",
	}
	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/fee-payments", payment)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("payment: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var paid struct {
		Data ledgerdomain.PaymentResult `json:"data"`
	}
	decode(t, body, &paid)
	if paid.Data.Status != ledgerdomain.StatusPaid {
		t.Fatalf("expected PAID, got %s", paid.Data.Status)
	}

	resp, body = doJSON(t, client, http.MethodGet,
		fmt.Sprintf("%s/students/%s/statement?as_of=2026-04-05", env.baseURL, student), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("statement: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var stmt struct {
		Data ledgerquery.Statement `json:"data"`
	}
	decode(t, body, &stmt)
	if stmt.Data.TotalBilled != 10700 || stmt.Data.TotalPaid != 5000 || stmt.Data.TotalPending != 5700 {
		t.Fatalf("unexpected statement totals: %+v", stmt.Data)
	}

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	sent := env.dispatcher.sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 reminders, got %d", len(sent))
	}
	for _, r := range sent {
		if r.StudentID == student && r.TotalPending != 5700 {
			t.Fatalf("expected 5700 pending for paying student, got %d", r.TotalPending)
		}
	}
}

type recordingDispatcher struct {
	mu        sync.Mutex
	reminders []reminder.Reminder
}

func (d *recordingDispatcher) SendPaymentReminder(_ context.Context, r reminder.Reminder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reminders = append(d.reminders, r)
	return nil
}

func (d *recordingDispatcher) sent() []reminder.Reminder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]reminder.Reminder(nil), d.reminders...)
}

func startEnv() (*testEnv, error) {
	conn, err := gorm.Open(sqlite.Open("file:feeledger_e2e?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}

	fakeClock := clock.NewFakeClock(startOfTerm)
	dispatcher := &recordingDispatcher{}

	var (
		srv   *server.Server
		sched *scheduler.Scheduler
	)
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Supply(conn, node),
		clock.Module,
		fx.Decorate(func(clock.Clock) clock.Clock { return fakeClock }),
		migration.Module,
		locking.Module,
		roster.Module,
		feeconfig.Module,
		ledger.Module,
		backdue.Module,
		demandbill.Module,
		ledgerquery.Module,
		reminder.Module,
		fx.Decorate(func(reminder.Dispatcher) reminder.Dispatcher { return dispatcher }),
		scheduler.Module,
		fx.Provide(server.NewEngine, server.NewServer),
		fx.Populate(&srv, &sched),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		app:        app,
		server:     srv,
		db:         conn,
		baseURL:    httpSrv.URL,
		scheduler:  sched,
		dispatcher: dispatcher,
		httpSrv:    httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.app.Stop(stopCtx)
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("SEED_DEMO_DATA", "true")
	setEnvIfEmpty("SCHOOL_ID", "7")
	setEnvIfEmpty("OTEL_ENABLED", "false")
}

func setEnvIfEmpty(key, value string) {
	if os.Getenv(key) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func seededClassID(t *testing.T) snowflake.ID {
	t.Helper()
	var class roster.Class
	if err := env.db.Where("name = ?", "Grade 5").First(&class).Error; err != nil {
		t.Fatalf("load seeded class: %v", err)
	}
	return class.ID
}

func structureID(t *testing.T, categoryCode string) snowflake.ID {
	t.Helper()
	var id int64
	err := env.db.Raw(
		`SELECT s.id FROM fee_structures s JOIN fee_categories c ON c.id = s.category_id WHERE c.code = ? AND s.active = ?`,
		categoryCode, true,
	).Scan(&id).Error
	if err != nil || id == 0 {
		t.Fatalf("load fee structure %s: %v", categoryCode, err)
	}
	return snowflake.ID(id)
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode response: %v: %s", err, body)
	}
}

func doJSON(t *testing.T, client *http.Client, method, reqURL string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
