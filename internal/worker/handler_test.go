package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test_handler", func(ctx context.Context, args []json.RawMessage) error { return nil })

	if registry.Count() != 1 {
		t.Errorf("expected 1 handler, got %d", registry.Count())
	}
}

func TestRegistry_Get_RegisteredHandler(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test_handler", func(ctx context.Context, args []json.RawMessage) error { return nil })

	handler, exists := registry.Get("test_handler")
	if !exists {
		t.Fatal("expected handler to exist")
	}
	if handler == nil {
		t.Error("expected handler to be non-nil")
	}
}

func TestRegistry_Get_UnregisteredHandler(t *testing.T) {
	registry := NewRegistry()

	_, exists := registry.Get("non_existent")
	if exists {
		t.Error("expected handler not to exist")
	}
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	registry := NewRegistry()
	registry.Register("dup", func(ctx context.Context, args []json.RawMessage) error { return errors.New("first") })
	registry.Register("dup", func(ctx context.Context, args []json.RawMessage) error { return errors.New("second") })

	if registry.Count() != 1 {
		t.Fatalf("expected 1 handler after overwrite, got %d", registry.Count())
	}
	handler, _ := registry.Get("dup")
	if err := handler(context.Background(), nil); err.Error() != "second" {
		t.Errorf("expected overwritten handler to win, got %q", err.Error())
	}
}

func TestHandleCountItems_ExecutesWithoutError(t *testing.T) {
	items := []string{"item1", "item2", "item3", "item4"}
	payload, _ := json.Marshal(items)

	if err := HandleCountItems(context.Background(), []json.RawMessage{payload}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestHandleCountItems_InvalidPayload(t *testing.T) {
	err := HandleCountItems(context.Background(), []json.RawMessage{[]byte("not json")})
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestHandleCountItems_NoArgs(t *testing.T) {
	if err := HandleCountItems(context.Background(), nil); err != nil {
		t.Errorf("expected no error with no args, got %v", err)
	}
}

func TestHandleSendEmail_ExecutesWithoutError(t *testing.T) {
	email := struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}{To: "test@example.com", Subject: "Test", Body: "body"}
	payload, _ := json.Marshal(email)

	if err := HandleSendEmail(context.Background(), []json.RawMessage{payload}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestHandleSendEmail_InvalidPayload(t *testing.T) {
	err := HandleSendEmail(context.Background(), []json.RawMessage{[]byte("not valid json")})
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestRegistry_MultipleHandlers(t *testing.T) {
	registry := NewRegistry()
	registry.Register("handler1", HandleCountItems)
	registry.Register("handler2", HandleSendEmail)
	registry.Register("handler3", HandleProcessData)

	if registry.Count() != 3 {
		t.Errorf("expected 3 handlers, got %d", registry.Count())
	}
	for _, name := range []string{"handler1", "handler2", "handler3"} {
		if _, exists := registry.Get(name); !exists {
			t.Errorf("expected handler %s to exist", name)
		}
	}
}
