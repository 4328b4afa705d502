package loginflow

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tendant/simple-twofa/pkg/twofa"
)

// LoginFlowStep represents a single step in the login flow
type LoginFlowStep interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// Execute performs the step's logic
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool
}

// FlowContext carries state between login flow steps
type FlowContext struct {
	// Input data
	Request Request
	Now     time.Time

	// Current state
	Result  *Result
	Account twofa.Account
	Pending PendingLogin
	// PendingTaken is set once the PendingLogin has been removed from the store
	PendingTaken bool

	// Services (injected by the flow executor)
	Services *ServiceDependencies
}

// StepResult represents the result of executing a login flow step
type StepResult struct {
	// Continue indicates whether the flow should continue to the next step
	Continue bool

	// EarlyReturn indicates the flow should return immediately with the current result
	EarlyReturn bool

	// Error ends the flow; Result.State keeps whatever the step left in it
	Error *Error
}

// StepRegistry manages and orders login flow steps
type StepRegistry struct {
	steps []LoginFlowStep
}

// NewStepRegistry creates a new step registry
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make([]LoginFlowStep, 0),
	}
}

// AddStep adds a step to the registry
func (r *StepRegistry) AddStep(step LoginFlowStep) *StepRegistry {
	r.steps = append(r.steps, step)
	return r
}

// GetOrderedSteps returns steps sorted by their order
func (r *StepRegistry) GetOrderedSteps() []LoginFlowStep {
	orderedSteps := make([]LoginFlowStep, len(r.steps))
	copy(orderedSteps, r.steps)

	sort.SliceStable(orderedSteps, func(i, j int) bool {
		return orderedSteps[i].Order() < orderedSteps[j].Order()
	})

	return orderedSteps
}

// FlowExecutor orchestrates the execution of login flow steps
type FlowExecutor struct {
	registry *StepRegistry
	services *ServiceDependencies
}

// NewFlowExecutor creates a new flow executor
func NewFlowExecutor(registry *StepRegistry, services *ServiceDependencies) *FlowExecutor {
	return &FlowExecutor{
		registry: registry,
		services: services,
	}
}

// Execute runs the steps in order starting from initial
func (e *FlowExecutor) Execute(ctx context.Context, request Request, initial State, now time.Time) Result {
	flowContext := &FlowContext{
		Request:  request,
		Now:      now,
		Result:   &Result{State: initial},
		Services: e.services,
	}

	for _, step := range e.registry.GetOrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			slog.Error("Login flow step failed", "step", step.Name(), "error", err)
			flowContext.Result.ErrorResponse = internalError(err)
			return *flowContext.Result
		}

		if stepResult.Error != nil {
			flowContext.Result.ErrorResponse = stepResult.Error
			return *flowContext.Result
		}

		if stepResult.EarlyReturn {
			return *flowContext.Result
		}

		if !stepResult.Continue {
			break
		}
	}

	return *flowContext.Result
}

// FlowBuilder provides a fluent interface for building login flows
type FlowBuilder struct {
	registry *StepRegistry
}

// NewFlowBuilder creates a new flow builder
func NewFlowBuilder() *FlowBuilder {
	return &FlowBuilder{
		registry: NewStepRegistry(),
	}
}

// AddStep adds a step to the flow
func (b *FlowBuilder) AddStep(step LoginFlowStep) *FlowBuilder {
	b.registry.AddStep(step)
	return b
}

// Build creates a flow executor with the configured steps
func (b *FlowBuilder) Build(services *ServiceDependencies) *FlowExecutor {
	return NewFlowExecutor(b.registry, services)
}

// Step orders. Begin and complete are separate flows and reuse the numbers.
const (
	OrderCredentialAuthentication = 100
	OrderTwoFARequirement         = 200

	OrderPendingLoginResolution  = 100
	OrderFactorValidation        = 200
	OrderPendingLoginConsumption = 300
	OrderBackupCodeAdvisory      = 400
)
