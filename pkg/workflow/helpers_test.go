package workflow_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// stubRecords serves one fixed snapshot for every entity.
type stubRecords struct {
	mu       sync.Mutex
	snapshot map[string]any
	err      error
	getCalls int
}

func (s *stubRecords) Get(_ context.Context, _ models.EntityRef) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++

	if s.err != nil {
		return nil, s.err
	}

	return s.snapshot, nil
}

func (s *stubRecords) UpdateField(_ context.Context, _ models.EntityRef, _ string, _ any) error {
	return nil
}

func (s *stubRecords) AddTag(_ context.Context, _ models.EntityRef, _ string) error {
	return nil
}

type invokerCall struct {
	actionType string
	config     map[string]any
	input      protocol.ActionInput
}

// stubInvoker records every action invocation and answers with a canned
// output, or with fn when set.
type stubInvoker struct {
	mu    sync.Mutex
	calls []invokerCall
	fn    func(call invokerCall) (any, error)
}

func (s *stubInvoker) Invoke(_ context.Context, actionType string, config map[string]any, input protocol.ActionInput) (any, error) {
	s.mu.Lock()
	call := invokerCall{actionType: actionType, config: config, input: input}
	s.calls = append(s.calls, call)
	fn := s.fn
	s.mu.Unlock()

	if fn == nil {
		return map[string]any{"status": "ok"}, nil
	}

	return fn(call)
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.calls)
}

func (s *stubInvoker) lastCall() invokerCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[len(s.calls)-1]
}

// stubReasoning answers reasoning requests with a canned reply.
type stubReasoning struct {
	reply *protocol.ReasoningReply
	err   error
	last  protocol.ReasoningRequest
}

func (s *stubReasoning) Invoke(_ context.Context, req protocol.ReasoningRequest) (*protocol.ReasoningReply, error) {
	s.last = req

	if s.err != nil {
		return nil, s.err
	}

	return s.reply, nil
}

func newTestInterpreter(records protocol.RecordStore, invoker workflow.ActionInvoker) *workflow.Interpreter {
	interp := workflow.NewInterpreter(testLogger(), nil, records, nil, nil)
	if invoker != nil {
		interp.Invoker = invoker
	}

	return interp
}

func step(id string, stepType models.StepType, config map[string]any, edges ...models.Edge) *models.Step {
	return &models.Step{ID: id, Type: stepType, Config: config, Edges: edges}
}

func edge(branch, to string) models.Edge {
	return models.Edge{Branch: branch, To: to}
}

func testWorkflow(id string, steps ...*models.Step) *models.Workflow {
	return &models.Workflow{
		ID:     id,
		Name:   id,
		Status: models.WorkflowStatusActive,
		Steps:  steps,
	}
}

func testEnrollment(workflowID string) *models.Enrollment {
	return models.NewEnrollment(workflowID, models.EntityRef{Type: "contact", ID: "c-1"})
}
