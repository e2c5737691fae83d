package monitor

import (
	"context"
	"time"

	"autoexit/logger"

	"github.com/shopspring/decimal"
)

// RuntimeState is the operator-adjustable part of the monitor that survives restarts.
type RuntimeState struct {
	TargetPoints        decimal.Decimal
	PaperMode           bool
	Paused              bool
	PollIntervalSeconds float64
	AutoExitEnabled     bool
}

// StateStore persists runtime settings and uncovered exit remainders.
type StateStore interface {
	LoadRuntime(ctx context.Context) (RuntimeState, bool, error)
	SaveRuntime(ctx context.Context, state RuntimeState) error
	LoadPendingExits(ctx context.Context) (map[string]int, error)
	SavePendingExit(ctx context.Context, key string, remaining int) error
	DeletePendingExit(ctx context.Context, key string) error
}

// ExitRecorder captures an audit record for every exit slice.
type ExitRecorder interface {
	LogExit(record *logger.ExitRecord) error
}

// Metrics receives loop and placement observations.
type Metrics interface {
	ObserveTick(elapsed time.Duration, err error)
	ExitSlice(paper bool, ok bool)
	SetExitState(pending, tracked int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration, error) {}
func (nopMetrics) ExitSlice(bool, bool)             {}
func (nopMetrics) SetExitState(int, int)            {}
