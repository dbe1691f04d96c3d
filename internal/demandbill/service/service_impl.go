package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/backdue"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	"github.com/smallbiznis/feeledger/internal/demandbill/domain"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/locking"
	obsmetrics "github.com/smallbiznis/feeledger/internal/observability/metrics"
	"github.com/smallbiznis/feeledger/internal/observability/tracing"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Fees       *config.FeeConfigHolder
	FeeConfig  feeconfigdomain.Service
	Ledger     ledgerdomain.Service
	Resolver   *backdue.Resolver
	Directory  roster.Directory
	Locker     *locking.Locker     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	fees       *config.FeeConfigHolder
	feeConfig  feeconfigdomain.Service
	ledger     ledgerdomain.Service
	resolver   *backdue.Resolver
	directory  roster.Directory
	locker     *locking.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	fees := p.Fees
	if fees == nil {
		fees = config.NewStaticFeeConfigHolder(config.DefaultFeeConfig())
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("demandbill.service"),
		genID:      p.GenID,
		clock:      clk,
		fees:       fees,
		feeConfig:  p.FeeConfig,
		ledger:     p.Ledger,
		resolver:   p.Resolver,
		directory:  p.Directory,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// target is a resolved request: the period, its academic year, the students
// to bill and the class snapshot they share.
type target struct {
	schoolID  snowflake.ID
	period    period.Period
	year      period.AcademicYear
	today     time.Time
	classID   snowflake.ID
	students  []roster.Student
	snapshot  feeconfigdomain.Snapshot
	overrides map[snowflake.ID]int64
	fees      config.FeeConfig
	scope     string
}

func (s *Service) Preview(ctx context.Context, req domain.Request) ([]domain.DemandBillPreviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "demandbill.preview", requestAttrs(req)...)
	items, err := s.preview(ctx, req)
	tracing.EndSpan(span, err)
	return items, err
}

func (s *Service) preview(ctx context.Context, req domain.Request) ([]domain.DemandBillPreviewItem, error) {
	t, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	billDate := t.today.Format(domain.BillDateLayout)
	items := make([]domain.DemandBillPreviewItem, 0, len(t.students))
	for _, student := range t.students {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comp, err := s.compose(ctx, s.ledger, t, student)
		if err != nil {
			return nil, err
		}
		items = append(items, comp.previewItem(student, "", billDate, t.period.MonthLabel()))
	}
	return items, nil
}

func (s *Service) resolveTarget(ctx context.Context, req domain.Request) (target, error) {
	if err := req.Validate(); err != nil {
		return target{}, err
	}
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return target{}, domain.ErrInvalidSchool
	}
	p, err := period.Parse(req.Period)
	if err != nil {
		return target{}, err
	}

	fees := s.fees.Get()
	t := target{
		schoolID: schoolID,
		period:   p,
		year:     period.AcademicYearOf(p, fees.AcademicYearStartMonth),
		today:    period.Today(s.clock.Now(), fees.Location()),
		fees:     fees,
	}

	if req.StudentID != 0 {
		student, err := s.directory.GetStudent(ctx, schoolID, req.StudentID)
		if err != nil {
			return target{}, err
		}
		t.classID = student.ClassID
		t.students = []roster.Student{student}
		t.scope = "student"
	} else {
		if _, err := s.directory.GetClass(ctx, schoolID, req.ClassID); err != nil {
			return target{}, err
		}
		students, err := s.directory.GetStudentsByClass(ctx, schoolID, req.ClassID)
		if err != nil {
			return target{}, err
		}
		t.classID = req.ClassID
		t.students = students
		t.scope = "class"
	}

	t.snapshot, err = s.feeConfig.Snapshot(ctx, t.year.Label(), t.classID, p)
	if err != nil {
		return target{}, err
	}

	t.overrides = make(map[snowflake.ID]int64, len(req.OverrideLineItems))
	for _, o := range req.OverrideLineItems {
		if _, ok := t.snapshot.Lookup(o.FeeStructureID); !ok {
			return target{}, domain.ErrUnknownOverride
		}
		t.overrides[o.FeeStructureID] = o.Amount
	}
	return t, nil
}

func (s *Service) StudentBills(ctx context.Context, studentID snowflake.ID) ([]domain.DemandBill, error) {
	return s.BillsForStudents(ctx, []snowflake.ID{studentID})
}

func (s *Service) BillsForStudents(ctx context.Context, studentIDs []snowflake.ID) ([]domain.DemandBill, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidSchool
	}
	return loadBills(ctx, s.db, schoolID, studentIDs)
}

func requestAttrs(req domain.Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("period", strings.TrimSpace(req.Period))}
	if req.ClassID != 0 {
		attrs = append(attrs, attribute.String("class_id", req.ClassID.String()))
	}
	if req.StudentID != 0 {
		attrs = append(attrs, attribute.String("student_id", req.StudentID.String()))
	}
	return attrs
}
