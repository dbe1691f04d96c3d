package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FeeConfig holds the school-level billing settings read from fees.yml.
type FeeConfig struct {
	BillNumberPrefix       string        `mapstructure:"billNumberPrefix"`
	AcademicYearStartMonth int           `mapstructure:"academicYearStartMonth"`
	Timezone               string        `mapstructure:"timezone"`
	GenerationWorkers      int           `mapstructure:"generationWorkers"`
	GenerationLockTTL      time.Duration `mapstructure:"generationLockTTL"`
	LockTimeout            time.Duration `mapstructure:"lockTimeout"`
	ReminderInterval       time.Duration `mapstructure:"reminderInterval"`
	ReminderMinPending     int64         `mapstructure:"reminderMinPending"`
}

func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		BillNumberPrefix:       "DB",
		AcademicYearStartMonth: 4,
		Timezone:               "UTC",
		GenerationWorkers:      8,
		GenerationLockTTL:      5 * time.Minute,
		LockTimeout:            5 * time.Second,
		ReminderInterval:       24 * time.Hour,
		ReminderMinPending:     1,
	}
}

// Location resolves the school timezone, falling back to UTC.
func (c FeeConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	return loc
}

type FeeConfigHolder struct {
	current atomic.Value // holds FeeConfig
}

// NewStaticFeeConfigHolder returns a holder that never reloads.
func NewStaticFeeConfigHolder(cfg FeeConfig) *FeeConfigHolder {
	holder := &FeeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewFeeConfigHolder() (*FeeConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/feeledger/config")
	v.AddConfigPath("/etc/feeledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FEELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultFeeConfig()
	v.SetDefault("fees.billNumberPrefix", defaults.BillNumberPrefix)
	v.SetDefault("fees.academicYearStartMonth", defaults.AcademicYearStartMonth)
	v.SetDefault("fees.timezone", defaults.Timezone)
	v.SetDefault("fees.generationWorkers", defaults.GenerationWorkers)
	v.SetDefault("fees.generationLockTTL", defaults.GenerationLockTTL)
	v.SetDefault("fees.lockTimeout", defaults.LockTimeout)
	v.SetDefault("fees.reminderInterval", defaults.ReminderInterval)
	v.SetDefault("fees.reminderMinPending", defaults.ReminderMinPending)

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		configFound = false
	}

	cfg, err := decodeFeeConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticFeeConfigHolder(cfg)
	if !configFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeFeeConfig(v)
		if err != nil {
			log.Printf("[fee-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fee-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *FeeConfigHolder) Get() FeeConfig {
	return h.current.Load().(FeeConfig)
}

func decodeFeeConfig(v *viper.Viper) (FeeConfig, error) {
	var cfg FeeConfig
	if err := v.UnmarshalKey("fees", &cfg); err != nil {
		return FeeConfig{}, err
	}
	if err := ValidateFeeConfig(cfg); err != nil {
		return FeeConfig{}, err
	}
	return cfg, nil
}

func ValidateFeeConfig(cfg FeeConfig) error {
	if strings.TrimSpace(cfg.BillNumberPrefix) == "" {
		return errors.New("fees.billNumberPrefix cannot be empty")
	}
	if cfg.AcademicYearStartMonth < 1 || cfg.AcademicYearStartMonth > 12 {
		return fmt.Errorf("fees.academicYearStartMonth must be 1..12, got %d", cfg.AcademicYearStartMonth)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone)); err != nil {
		return fmt.Errorf("fees.timezone: %w", err)
	}
	if cfg.GenerationWorkers < 1 {
		return errors.New("fees.generationWorkers must be positive")
	}
	if cfg.ReminderMinPending < 0 {
		return errors.New("fees.reminderMinPending cannot be negative")
	}
	return nil
}
