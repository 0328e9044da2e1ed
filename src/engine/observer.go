package engine

import (
	"log/slog"

	"github.com/username/coinfolio/src/models"
)

// GainObserver receives one event per operation that moved the capital-gain
// accumulator.
type GainObserver interface {
	GainRecognized(op models.Operation, gain float64)
}

// FlowObserver receives deposit/withdrawal style movements and the
// recoverable anomalies (missing quotes) hit while processing them.
type FlowObserver interface {
	Movement(op models.Operation, detail string)
}

type noopGainObserver struct{}
type noopFlowObserver struct{}

func (noopGainObserver) GainRecognized(models.Operation, float64) {}
func (noopFlowObserver) Movement(models.Operation, string)        {}

// SlogGainObserver writes gain events to a structured log sink.
type SlogGainObserver struct{ Log *slog.Logger }

func (o SlogGainObserver) GainRecognized(op models.Operation, gain float64) {
	o.Log.Info("capital gain", "operation", op.String(), "gain", gain)
}

// SlogFlowObserver writes movement events to a structured log sink.
type SlogFlowObserver struct{ Log *slog.Logger }

func (o SlogFlowObserver) Movement(op models.Operation, detail string) {
	o.Log.Info("movement", "operation", op.String(), "detail", detail)
}
