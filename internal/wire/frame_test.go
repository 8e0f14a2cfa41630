package wire

import "testing"

func TestNewRequestSetsID(t *testing.T) {
	f, err := NewRequest(42, MethodIntent, IntentParams{Kind: "goto"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if f.ID == nil || *f.ID != 42 {
		t.Fatalf("expected id 42, got %v", f.ID)
	}
	if f.JSONRPC != Version {
		t.Fatalf("expected jsonrpc version %s, got %s", Version, f.JSONRPC)
	}
}

func TestNewNotificationHasNoID(t *testing.T) {
	f, err := NewNotification(MethodPulse, PulseParams{Layer: "X"})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	if f.ID != nil {
		t.Fatal("a notification must not carry an id")
	}
}

func TestNewResponseEchoesID(t *testing.T) {
	id := int64(7)
	f, err := NewResponse(&id, RegistrationResult{AssignedID: "abc"})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if f.ID == nil || *f.ID != 7 {
		t.Fatalf("expected echoed id 7, got %v", f.ID)
	}
	if f.Error != nil {
		t.Fatal("a success response must not carry an error")
	}
}

func TestNewErrorResponseCarriesCode(t *testing.T) {
	id := int64(3)
	f := NewErrorResponse(&id, CodeInvalidParams, "bad params")
	if f.Error == nil || f.Error.Code != CodeInvalidParams {
		t.Fatalf("expected error code %d, got %+v", CodeInvalidParams, f.Error)
	}
}
