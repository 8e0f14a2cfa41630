// Package security implements the Hub's inbound guards: JSON-RPC
// schema validation and PII scanning. Malformed input is answered with
// a JSON-RPC error object instead of tearing down the connection.
package security

import (
	"fmt"

	"github.com/starlight-protocol/starlight/internal/wire"
)

var knownMethods = map[string]bool{
	wire.MethodIntent:            true,
	wire.MethodRegistration:      true,
	wire.MethodChallengeResponse: true,
	wire.MethodPulse:             true,
	wire.MethodClear:             true,
	wire.MethodWait:              true,
	wire.MethodHijack:            true,
	wire.MethodResume:            true,
	wire.MethodAction:            true,
	wire.MethodContextUpdate:     true,
	wire.MethodSidetalk:          true,
	wire.MethodAbort:             true,
	wire.MethodEntropyStream:     true,
}

// ValidateFrame checks the JSON-RPC 2.0 shape and, for requests and
// notifications, that the method is one this Hub understands. It never
// panics on a malformed frame; the caller drops frames that fail to
// even unmarshal before reaching here.
func ValidateFrame(f *wire.Frame) *wire.Error {
	if f.JSONRPC != "2.0" {
		return &wire.Error{Code: wire.CodeInvalidRequest, Message: "jsonrpc must be \"2.0\""}
	}

	// A response frame carries neither method nor params; nothing further to check.
	if f.Method == "" {
		if f.Result == nil && f.Error == nil {
			return &wire.Error{Code: wire.CodeInvalidRequest, Message: "frame has no method, result, or error"}
		}
		return nil
	}

	if !knownMethods[f.Method] {
		return &wire.Error{Code: wire.CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", f.Method)}
	}
	return nil
}
