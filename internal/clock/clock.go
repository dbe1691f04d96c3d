package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts the wall clock so ledger dates and scheduler ticks are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock returns the real UTC clock.
func NewSystemClock() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
