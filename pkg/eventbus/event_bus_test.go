package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/channels/gochannel"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/models"
)

func TestWatermillEventBusDeliversTypedEvents(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.EnrollmentCreated, 1)

	err = bus.Handle(events.EnrollmentCreatedEvent, func(_ context.Context, event any) error {
		created, ok := event.(*events.EnrollmentCreated)
		if ok {
			received <- created
		}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	event := events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, "wf-1"),
		EnrollmentID: "enr-1",
		Entity:       models.EntityRef{Type: "contact", ID: "c-1"},
	}

	err = bus.Publish(ctx, "enr-1", event)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "enr-1", got.EnrollmentID)
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "contact", got.Entity.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enrollment.created event")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	handled := make(chan struct{}, 1)

	err = bus.Handle(events.EnrollmentFailedEvent, func(_ context.Context, _ any) error {
		handled <- struct{}{}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	event := events.EnrollmentCompleted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent, "wf-1"),
		EnrollmentID: "enr-1",
	}

	err = bus.Publish(ctx, "enr-1", event)
	require.NoError(t, err)

	select {
	case <-handled:
		t.Fatal("handler fired for an event type it never registered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFeedBusRoundTrip(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillFeedBus(pub, sub, log.Discard())

	received := make(chan *events.RecordEvent, 1)

	err = bus.HandleRecordEvents(func(_ context.Context, event *events.RecordEvent) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = bus.SubscribeToRecordEvents(ctx)
	require.NoError(t, err)

	event := &events.RecordEvent{
		ID:         "evt-1",
		Type:       "contact.created",
		Entity:     models.EntityRef{Type: "contact", ID: "c-9"},
		Data:       map[string]any{"email": "ada@example.com"},
		OccurredAt: time.Now().UTC(),
	}

	err = bus.PublishRecordEvent(ctx, event)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "contact.created", got.Type)
		assert.Equal(t, "c-9", got.Entity.ID)
		assert.Equal(t, "ada@example.com", got.Data["email"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record event")
	}
}
