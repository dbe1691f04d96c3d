package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFeeConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateFeeConfig(DefaultFeeConfig()))
}

func TestValidateFeeConfigRejects(t *testing.T) {
	cases := map[string]func(*FeeConfig){
		"empty prefix":   func(c *FeeConfig) { c.BillNumberPrefix = " " },
		"start month":    func(c *FeeConfig) { c.AcademicYearStartMonth = 13 },
		"timezone":       func(c *FeeConfig) { c.Timezone = "Mars/Olympus" },
		"workers":        func(c *FeeConfig) { c.GenerationWorkers = 0 },
		"reminder floor": func(c *FeeConfig) { c.ReminderMinPending = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultFeeConfig()
			mutate(&cfg)
			assert.Error(t, ValidateFeeConfig(cfg))
		})
	}
}

func TestStaticHolderAndLocation(t *testing.T) {
	cfg := DefaultFeeConfig()
	cfg.Timezone = "Asia/Kolkata"
	holder := NewStaticFeeConfigHolder(cfg)

	got := holder.Get()
	assert.Equal(t, "DB", got.BillNumberPrefix)
	loc := got.Location()
	_, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+1800, offset)

	assert.Equal(t, time.UTC, FeeConfig{}.Location())
}
