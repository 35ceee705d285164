package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	flowpilot "github.com/goliatone/go-flowpilot"
)

// Test Events
type SaveWorkflowEvent struct {
	Owner string
	Name  string
}

func (e SaveWorkflowEvent) Type() string { return "workflow.save" }

func (e SaveWorkflowEvent) Validate() error {
	if e.Name == "" {
		return errors.New("workflow name is required")
	}
	return nil
}

type FetchWorkflowEvent struct {
	Name string
}

func (e FetchWorkflowEvent) Type() string { return "workflow.fetch" }

func (e FetchWorkflowEvent) Validate() error { return nil }

type StoredWorkflow struct {
	Name  string
	Owner string
}

// Mock implementations
type mockStore struct {
	workflows map[string]*StoredWorkflow
}

func newMockStore() *mockStore {
	return &mockStore{workflows: make(map[string]*StoredWorkflow)}
}

// Test handlers
type SaveWorkflowHandler struct {
	store *mockStore
}

func (h *SaveWorkflowHandler) Execute(ctx context.Context, event SaveWorkflowEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.store.workflows[event.Name] = &StoredWorkflow{
			Name:  event.Name,
			Owner: event.Owner,
		}
		return nil
	}
}

type FetchWorkflowHandler struct {
	store *mockStore
}

func (h *FetchWorkflowHandler) Query(ctx context.Context, event FetchWorkflowEvent) (*StoredWorkflow, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		if workflow, ok := h.store.workflows[event.Name]; ok {
			return workflow, nil
		}
		return nil, errors.New("workflow not found")
	}
}

// Tests
func TestCommandDispatcher(t *testing.T) {
	t.Run("successful command execution", func(t *testing.T) {
		store := newMockStore()
		handler := &SaveWorkflowHandler{store: store}

		sub := SubscribeCommand(handler)
		defer sub.Unsubscribe()

		err := Dispatch(context.Background(), SaveWorkflowEvent{
			Owner: "chat-42",
			Name:  "portrait",
		})

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}

		if workflow, exists := store.workflows["portrait"]; !exists {
			t.Error("workflow was not saved")
		} else if workflow.Owner != "chat-42" {
			t.Errorf("expected owner %s, got %s", "chat-42", workflow.Owner)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		handler := flowpilot.CommandFunc[SaveWorkflowEvent](func(ctx context.Context, e SaveWorkflowEvent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
				return nil
			}
		})

		sub := SubscribeCommand(handler)
		defer sub.Unsubscribe()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := Dispatch(ctx, SaveWorkflowEvent{Owner: "chat-42", Name: "portrait"})

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded error, got %v", err)
		}
	})

	t.Run("no handler registered", func(t *testing.T) {
		err := Dispatch(context.Background(), SaveWorkflowEvent{Owner: "chat-42", Name: "portrait"})

		var msgErr *flowpilot.MessageError
		if !errors.As(err, &msgErr) {
			t.Errorf("expected MessageError, got %v", err)
		}
	})

	t.Run("all handlers run despite errors", func(t *testing.T) {
		firstError := errors.New("handler error")

		var secondHandlerCalled bool

		sub1 := SubscribeCommand(flowpilot.CommandFunc[SaveWorkflowEvent](func(ctx context.Context, e SaveWorkflowEvent) error {
			return firstError
		}))
		defer sub1.Unsubscribe()

		sub2 := SubscribeCommand(flowpilot.CommandFunc[SaveWorkflowEvent](func(ctx context.Context, e SaveWorkflowEvent) error {
			secondHandlerCalled = true
			return nil
		}))
		defer sub2.Unsubscribe()

		err := Dispatch(context.Background(), SaveWorkflowEvent{Owner: "chat-42", Name: "portrait"})

		if !errors.Is(err, firstError) {
			t.Errorf("expected first handler error, got %v", err)
		}

		if !secondHandlerCalled {
			t.Error("second handler should still run when ExitOnErr is false")
		}
	})
}

func TestQueryDispatcher(t *testing.T) {
	t.Run("successful query execution", func(t *testing.T) {
		store := newMockStore()
		store.workflows["portrait"] = &StoredWorkflow{Name: "portrait", Owner: "chat-42"}

		handler := &FetchWorkflowHandler{store: store}

		sub := SubscribeQuery[FetchWorkflowEvent, *StoredWorkflow](handler)
		defer sub.Unsubscribe()

		workflow, err := Query[FetchWorkflowEvent, *StoredWorkflow](context.Background(), FetchWorkflowEvent{
			Name: "portrait",
		})

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}

		if workflow == nil {
			t.Error("expected workflow, got nil")
		} else if workflow.Owner != "chat-42" {
			t.Errorf("expected owner %s, got %s", "chat-42", workflow.Owner)
		}
	})

	t.Run("not found error", func(t *testing.T) {
		store := newMockStore()
		handler := &FetchWorkflowHandler{store: store}

		sub := SubscribeQuery[FetchWorkflowEvent, *StoredWorkflow](handler)
		defer sub.Unsubscribe()

		_, err := Query[FetchWorkflowEvent, *StoredWorkflow](context.Background(), FetchWorkflowEvent{
			Name: "non-existent",
		})

		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("ambiguous handlers", func(t *testing.T) {
		store := newMockStore()

		sub1 := SubscribeQuery[FetchWorkflowEvent, *StoredWorkflow](&FetchWorkflowHandler{store: store})
		defer sub1.Unsubscribe()
		sub2 := SubscribeQuery[FetchWorkflowEvent, *StoredWorkflow](&FetchWorkflowHandler{store: store})
		defer sub2.Unsubscribe()

		_, err := Query[FetchWorkflowEvent, *StoredWorkflow](context.Background(), FetchWorkflowEvent{
			Name: "portrait",
		})

		if err == nil {
			t.Error("expected ambiguous handler error, got nil")
		}
	})
}

// Example usage
func Example() {
	store := newMockStore()

	saveSub := SubscribeCommand(&SaveWorkflowHandler{store: store})
	defer saveSub.Unsubscribe()

	fetchSub := SubscribeQuery[FetchWorkflowEvent, *StoredWorkflow](&FetchWorkflowHandler{store: store})
	defer fetchSub.Unsubscribe()

	if err := Dispatch(context.Background(), SaveWorkflowEvent{
		Owner: "chat-42",
		Name:  "portrait",
	}); err != nil {
		panic(err)
	}

	workflow, err := Query[FetchWorkflowEvent, *StoredWorkflow](context.Background(), FetchWorkflowEvent{
		Name: "portrait",
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Found workflow: %s (%s)\n", workflow.Name, workflow.Owner)
	// Output: Found workflow: portrait (chat-42)
}
