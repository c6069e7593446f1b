package identity

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SagaStep is one forward action of a saga. Compensate, when set, undoes Run
// and is only invoked if a later step fails.
type SagaStep struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga runs steps strictly in order. On the first failure the already
// completed steps are compensated in reverse order and the original error is
// returned. Compensation failures are logged, never returned.
type Saga struct {
	name    string
	steps   []SagaStep
	logger  Logger
	metrics *Metrics
}

func NewSaga(name string, logger Logger, metrics *Metrics, steps ...SagaStep) *Saga {
	if logger == nil {
		logger = defLogger{}
	}
	return &Saga{
		name:    name,
		steps:   steps,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute runs the saga. Compensation runs detached from ctx cancellation so
// a cancelled request still cleans up.
func (s *Saga) Execute(ctx context.Context) error {
	completed := make([]SagaStep, 0, len(s.steps))

	for _, step := range s.steps {
		stepCtx, span := tracer.Start(ctx, s.name+"."+step.Name)
		err := step.Run(stepCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			s.logger.Error("saga %s failed at step %s: %v", s.name, step.Name, err)
			s.compensate(context.WithoutCancel(ctx), completed)
			return err
		}
		span.End()
		completed = append(completed, step)
	}

	return nil
}

func (s *Saga) compensate(ctx context.Context, completed []SagaStep) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		stepCtx, span := tracer.Start(ctx, s.name+"."+step.Name+".compensate")
		span.SetAttributes(attribute.String("saga.step", step.Name))

		if err := step.Compensate(stepCtx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("saga %s compensation of step %s failed: %v", s.name, step.Name, err)
			s.metrics.compensation(s.name, false)
		} else {
			s.logger.Info("saga %s compensated step %s", s.name, step.Name)
			s.metrics.compensation(s.name, true)
		}
		span.End()
	}
}
