// Package saga runs an ordered list of steps against systems without
// transactions. When a step fails, the compensations of the steps that
// already completed run in reverse order.
package saga

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

// Step is one forward action with an optional compensation. Compensate is
// nil for steps without side effects or whose effects are never undone.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Result is the outcome of a run
type Result struct {
	// Completed lists the steps whose action succeeded, in order
	Completed []string

	// FailedStep and Err describe the first failure; both are empty on success
	FailedStep string
	Err        error

	// Compensated lists the compensations that succeeded, in the order run
	Compensated []string

	// CompensationErrors holds compensations that failed. They are
	// reported here and logged but never replace Err.
	CompensationErrors []*errs.CompensationError
}

// Succeeded reports whether every step completed
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Saga runs steps and compensations
type Saga struct {
	name    string
	logger  *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// New creates a saga runner. name prefixes span names.
func New(name string, logger *logrus.Logger, metrics *observability.Metrics) *Saga {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &Saga{
		name:    name,
		logger:  logger,
		metrics: metrics,
		tracer:  observability.Tracer(),
	}
}

// WithTracer replaces the tracer used for step spans
func (s *Saga) WithTracer(tracer trace.Tracer) *Saga {
	s.tracer = tracer
	return s
}

// Run executes steps in order and stops at the first failure, then
// compensates the completed steps in reverse. A panicking action or
// compensation counts as a failure of that step.
func (s *Saga) Run(ctx context.Context, steps ...Step) *Result {
	ctx, span := s.tracer.Start(ctx, s.name)
	defer span.End()

	logger := observability.FromContext(ctx, s.logger).WithField("saga", s.name)
	result := &Result{}
	var completed []Step

	for _, step := range steps {
		err := s.runAction(ctx, step)
		if err == nil {
			completed = append(completed, step)
			result.Completed = append(result.Completed, step.Name)
			continue
		}

		result.FailedStep = step.Name
		result.Err = err
		s.metrics.RecordStepFailure(step.Name)
		logger.WithError(err).WithField("step", step.Name).Error("Saga step failed")
		span.SetStatus(codes.Error, fmt.Sprintf("step %s failed", step.Name))
		span.SetAttributes(attribute.String("saga.failed_step", step.Name))
		break
	}

	if result.Err == nil {
		return result
	}

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		if err := s.runCompensation(ctx, step); err != nil {
			compErr := &errs.CompensationError{Step: step.Name, Err: err}
			result.CompensationErrors = append(result.CompensationErrors, compErr)
			s.metrics.RecordCompensation(step.Name, false)
			logger.WithError(compErr).WithField("step", step.Name).Error("Compensation failed")
			continue
		}
		result.Compensated = append(result.Compensated, step.Name)
		s.metrics.RecordCompensation(step.Name, true)
		logger.WithField("step", step.Name).Info("Compensated step")
	}

	return result
}

func (s *Saga) runAction(ctx context.Context, step Step) (err error) {
	ctx, span := s.tracer.Start(ctx, s.name+"."+step.Name,
		trace.WithAttributes(attribute.String("saga.step", step.Name)))
	defer span.End()

	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return step.Action(ctx)
}

func (s *Saga) runCompensation(ctx context.Context, step Step) (err error) {
	ctx, span := s.tracer.Start(ctx, s.name+"."+step.Name+".compensate",
		trace.WithAttributes(attribute.String("saga.step", step.Name)))
	defer span.End()

	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return step.Compensate(ctx)
}
