package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/seed"
	"github.com/smallbiznis/feeledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Conn  *gorm.DB
	Cfg   config.Config
	Fees  *config.FeeConfigHolder
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p Params) error {
		if !db.IsPostgres(p.Conn) || p.Cfg.DBAutoMigrate {
			p.Log.Info("migrating schema from models", zap.String("dialect", p.Conn.Dialector.Name()))
			if err := AutoMigrate(p.Conn); err != nil {
				return err
			}
		} else {
			sqlDB, err := p.Conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		if !p.Cfg.SeedDemoData || p.Cfg.IsProduction() {
			return nil
		}
		fees := p.Fees.Get()
		current := period.Of(p.Clock.Now().In(fees.Location()))
		year := period.AcademicYearOf(current, fees.AcademicYearStartMonth).Label()
		p.Log.Info("seeding demo school", zap.Int64("school_id", p.Cfg.SchoolID), zap.String("academic_year", year))
		return seed.EnsureDemoSchool(context.Background(), p.Conn, p.GenID, snowflake.ID(p.Cfg.SchoolID), year)
	}),
)
