package events

import (
	"context"
	"errors"
	"testing"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.Subscribe(func(context.Context, Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Subscribe(func(context.Context, Event) error {
		order = append(order, 2)
		return nil
	})

	bus.Publish(context.Background(), EnrollmentCreated{EnrollmentID: "e1"})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("delivery order = %v, want [1 2]", order)
	}
}

func TestPublishContinuesPastHandlerError(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(context.Context, Event) error {
		return errors.New("boom")
	})
	var got Event
	bus.Subscribe(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})

	ev := ParentAssigned{StudentID: "s1", ParentID: "p1"}
	bus.Publish(context.Background(), ev)

	if got != ev {
		t.Fatalf("second handler saw %v, want %v", got, ev)
	}
}

func TestPublishSynchronous(t *testing.T) {
	bus := NewBus()
	done := false
	bus.Subscribe(func(context.Context, Event) error {
		done = true
		return nil
	})
	bus.Publish(context.Background(), TutorChanged{AssignmentID: "a1"})
	if !done {
		t.Fatal("Publish returned before the handler ran")
	}
}
