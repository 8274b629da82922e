package services

import (
	"context"
	"sync"
	"testing"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence/file"
)

// capturePublisher records published events instead of sending them anywhere.
type capturePublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, event)

	return nil
}

func (p *capturePublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.published))
	for _, event := range p.published {
		types = append(types, event.GetType())
	}

	return types
}

func newTestPersistence(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

// validWorkflow returns a minimal graph that passes activation validation:
// a trigger continuing into one action step.
func validWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:   "welcome journey",
		Status: models.WorkflowStatusDraft,
		Steps: []*models.Step{
			{
				ID:     "trigger-1",
				Type:   models.StepTypeTrigger,
				Config: map[string]any{"event_type": "contact.created", "entity_type": "contact"},
				Edges:  []models.Edge{{Branch: models.BranchNext, To: "log-1"}},
			},
			{
				ID:     "log-1",
				Type:   models.StepTypeAction,
				Config: map[string]any{"action_type": "log", "params": map[string]any{"message": "welcome"}},
			},
		},
	}
}
