// Package optimizer implements the plain gradient descent used to drive
// the registration.
package optimizer

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrNoCostFunction is returned when Run is called without a cost function
var ErrNoCostFunction = errors.New("cost function is not set")

// CostFunction is anything that can report a value and its gradient
type CostFunction interface {
	ValueAndDerivative(params []float64) (float64, []float64, error)
	NumberOfParameters() int
}

// StopCondition tells why the optimizer returned
type StopCondition int

const (
	// MaximumNumberOfIterations means every configured iteration ran
	MaximumNumberOfIterations StopCondition = iota

	// StopRequested means the context was cancelled
	StopRequested

	// MetricError means the cost function failed
	MetricError
)

func (s StopCondition) String() string {
	switch s {
	case MaximumNumberOfIterations:
		return "maximum number of iterations reached"
	case StopRequested:
		return "stop requested"
	case MetricError:
		return "metric error"
	}
	return fmt.Sprintf("StopCondition(%d)", int(s))
}

// Observer is called after every iteration with the value and gradient
// evaluated at the parameters before the step, and the parameters after it
type Observer func(iteration int, value float64, derivative, params []float64)

// GradientDescent advances the parameters along the gradient with a fixed
// learning rate:
//
//	params += learningRate * derivative   (maximize)
//	params -= learningRate * derivative   (minimize)
type GradientDescent struct {
	LearningRate       float64
	NumberOfIterations int
	Maximize           bool

	cost     CostFunction
	observer Observer

	currentIteration int
	value            float64
	position         []float64
	stopCondition    StopCondition
}

// NewGradientDescent returns an optimizer with the given step settings
func NewGradientDescent(learningRate float64, iterations int, maximize bool) *GradientDescent {
	return &GradientDescent{
		LearningRate:       learningRate,
		NumberOfIterations: iterations,
		Maximize:           maximize,
	}
}

// SetCostFunction sets the function being optimized
func (g *GradientDescent) SetCostFunction(cost CostFunction) {
	g.cost = cost
}

// SetObserver installs a per-iteration callback
func (g *GradientDescent) SetObserver(o Observer) {
	g.observer = o
}

// Run iterates from initial until the iteration budget is spent, ctx is
// cancelled or the cost function fails. The final position is available from
// CurrentPosition even when an error is returned.
func (g *GradientDescent) Run(ctx context.Context, initial []float64) error {
	if g.cost == nil {
		return ErrNoCostFunction
	}
	if len(initial) != g.cost.NumberOfParameters() {
		return fmt.Errorf("initial position has %d parameters, cost function needs %d",
			len(initial), g.cost.NumberOfParameters())
	}

	g.position = append([]float64(nil), initial...)
	g.currentIteration = 0
	g.value = 0

	direction := -1.0
	if g.Maximize {
		direction = 1.0
	}

	for g.currentIteration < g.NumberOfIterations {
		if err := ctx.Err(); err != nil {
			g.stopCondition = StopRequested
			return err
		}

		value, derivative, err := g.cost.ValueAndDerivative(g.position)
		if err != nil {
			g.stopCondition = MetricError
			return fmt.Errorf("iteration %d: %w", g.currentIteration, err)
		}
		g.value = value

		floats.AddScaled(g.position, direction*g.LearningRate, derivative)
		g.currentIteration++

		if g.observer != nil {
			g.observer(g.currentIteration, value, derivative, g.position)
		}
	}

	g.stopCondition = MaximumNumberOfIterations
	return nil
}

// CurrentIteration returns the number of completed iterations
func (g *GradientDescent) CurrentIteration() int {
	return g.currentIteration
}

// Value returns the cost at the start of the last completed iteration
func (g *GradientDescent) Value() float64 {
	return g.value
}

// CurrentPosition returns a copy of the current parameters
func (g *GradientDescent) CurrentPosition() []float64 {
	return append([]float64(nil), g.position...)
}

// StopCondition returns why the last Run returned
func (g *GradientDescent) StopCondition() StopCondition {
	return g.stopCondition
}
