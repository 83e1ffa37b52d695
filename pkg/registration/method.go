package registration

import (
	"context"
	"errors"
	"fmt"

	"mmreg/internal/models"
	"mmreg/pkg/logging"
	"mmreg/pkg/metric"
	"mmreg/pkg/optimizer"
	"mmreg/pkg/transform"
)

// ErrRegistrationFailed wraps every error raised while optimizing
var ErrRegistrationFailed = errors.New("registration failed")

// Result is the outcome of a registration run
type Result struct {
	// Parameters are the final transform parameters
	Parameters []float64

	// Iterations is the number of optimizer iterations completed
	Iterations int

	// FinalValue is the metric value at the last iteration
	FinalValue float64

	// StopCondition tells why the optimizer returned
	StopCondition optimizer.StopCondition
}

// Method registers a moving volume onto a fixed volume by letting a
// gradient descent optimizer maximize mutual information over the
// parameters of a transform.
type Method struct {
	fixed     *models.Volume
	moving    *models.Volume
	transform transform.Transform
	optimizer *optimizer.GradientDescent

	metricParams metric.Params
	fixedRegion  *models.Region
	initial      []float64

	log         *logging.Logger
	reportEvery int
}

// NewMethod wires the registration components together
func NewMethod(fixed, moving *models.Volume, tr transform.Transform, opt *optimizer.GradientDescent, mp metric.Params) *Method {
	return &Method{
		fixed:        fixed,
		moving:       moving,
		transform:    tr,
		optimizer:    opt,
		metricParams: mp,
		log:          logging.Nop(),
	}
}

// SetFixedRegion restricts metric sampling to part of the fixed volume
func (m *Method) SetFixedRegion(r models.Region) {
	m.fixedRegion = &r
}

// SetInitialParameters sets the optimizer's starting point; the default is
// the zero vector
func (m *Method) SetInitialParameters(params []float64) {
	m.initial = append([]float64(nil), params...)
}

// SetLogger enables iteration progress logging every reportEvery iterations
func (m *Method) SetLogger(log *logging.Logger, reportEvery int) {
	m.log = log
	m.reportEvery = reportEvery
}

// Run optimizes the transform parameters
func (m *Method) Run(ctx context.Context) (*Result, error) {
	initial := m.initial
	if initial == nil {
		initial = make([]float64, m.transform.NumberOfParameters())
	}
	if len(initial) != m.transform.NumberOfParameters() {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, transform.ErrParameterCount)
	}

	mi, err := metric.NewMutualInformation(m.fixed, m.moving, m.transform, m.metricParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	if m.fixedRegion != nil {
		if err := mi.SetFixedRegion(*m.fixedRegion); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		}
	}

	m.optimizer.SetCostFunction(mi)
	m.optimizer.SetObserver(func(iteration int, value float64, _, params []float64) {
		if m.reportEvery > 0 && iteration%m.reportEvery == 0 {
			m.log.Info("iteration", map[string]interface{}{
				"iteration":  iteration,
				"value":      value,
				"parameters": params,
			})
		}
	})

	runErr := m.optimizer.Run(ctx, initial)
	result := &Result{
		Parameters:    m.optimizer.CurrentPosition(),
		Iterations:    m.optimizer.CurrentIteration(),
		FinalValue:    m.optimizer.Value(),
		StopCondition: m.optimizer.StopCondition(),
	}
	if runErr != nil {
		return result, fmt.Errorf("%w: %w", ErrRegistrationFailed, runErr)
	}
	return result, nil
}
