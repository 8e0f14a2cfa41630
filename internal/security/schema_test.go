package security

import (
	"testing"

	"github.com/starlight-protocol/starlight/internal/wire"
)

func TestValidateFrameRejectsBadVersion(t *testing.T) {
	f := &wire.Frame{JSONRPC: "1.0", Method: wire.MethodPulse}
	if err := ValidateFrame(f); err == nil || err.Code != wire.CodeInvalidRequest {
		t.Fatalf("expected CodeInvalidRequest for bad jsonrpc version, got %+v", err)
	}
}

func TestValidateFrameRejectsUnknownMethod(t *testing.T) {
	f := &wire.Frame{JSONRPC: "2.0", Method: "starlight.made_up"}
	if err := ValidateFrame(f); err == nil || err.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound for an unknown method, got %+v", err)
	}
}

func TestValidateFrameAcceptsKnownMethods(t *testing.T) {
	for _, method := range []string{
		wire.MethodIntent, wire.MethodRegistration, wire.MethodChallengeResponse,
		wire.MethodPulse, wire.MethodClear, wire.MethodWait, wire.MethodHijack,
		wire.MethodResume, wire.MethodAction, wire.MethodContextUpdate,
		wire.MethodSidetalk, wire.MethodAbort, wire.MethodEntropyStream,
	} {
		f := &wire.Frame{JSONRPC: "2.0", Method: method}
		if err := ValidateFrame(f); err != nil {
			t.Errorf("expected %s to validate, got %+v", method, err)
		}
	}
}

func TestValidateFrameAcceptsResponseWithNoMethod(t *testing.T) {
	id := int64(1)
	f := &wire.Frame{JSONRPC: "2.0", ID: &id, Result: []byte(`{}`)}
	if err := ValidateFrame(f); err != nil {
		t.Fatalf("expected a response-shaped frame to validate, got %+v", err)
	}
}

func TestValidateFrameRejectsEmptyFrame(t *testing.T) {
	f := &wire.Frame{JSONRPC: "2.0"}
	if err := ValidateFrame(f); err == nil {
		t.Fatal("expected a frame with no method, result, or error to be rejected")
	}
}
