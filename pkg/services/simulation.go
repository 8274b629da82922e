package services

import (
	"context"
	"log/slog"

	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/workflow"
)

// Simulation runs workflows against synthetic enrollments that never
// persist. Any workflow status may be simulated; drafts are the common case,
// tested before activation.
type Simulation struct {
	persistence persistence.Persistence
	simulator   *workflow.Simulator
}

// NewSimulation creates a new simulation service.
func NewSimulation(
	logger *slog.Logger,
	persistence persistence.Persistence,
	reg *registry.Registry,
	records protocol.RecordStore,
	reasoning protocol.ReasoningClient,
) *Simulation {
	return &Simulation{
		persistence: persistence,
		simulator:   workflow.NewSimulator(logger, persistence, records, reg, reasoning),
	}
}

// Run simulates the workflow for one entity and returns the per-step trace.
func (s *Simulation) Run(ctx context.Context, workflowID string, req workflow.SimulationRequest) (*workflow.SimulationResult, error) {
	if req.Entity.Type == "" || req.Entity.ID == "" {
		return nil, ErrEntityRequired
	}

	wf, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	return s.simulator.Run(ctx, wf, req), nil
}
