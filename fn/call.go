// Package fn holds the function registry jobs are dispatched against.
//
// A submitted function travels by name: the caller encodes a Call with
// the registered name and its arguments, and the runtime executing the
// job must have the same function registered. Function bodies are never
// serialized.
package fn

import "encoding/json"

// Call is the wire form of one function invocation. Args are encoded
// as JSON and converted to the parameter types of the registered
// function on the executing side.
type Call struct {
	Function string        `json:"function"`
	Args     []interface{} `json:"args"`
}

// NewCall builds a Call for a named function. Arguments must be
// JSON-serializable; failures surface when the call is encoded.
func NewCall(function string, args ...interface{}) Call {
	if args == nil {
		args = []interface{}{}
	}
	return Call{Function: function, Args: args}
}

// Encode renders the payload submitted as the job's stdin.
func (c Call) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// rawCall defers argument decoding so each argument can be unmarshaled
// directly into the registered parameter type.
type rawCall struct {
	Function string            `json:"function"`
	Args     []json.RawMessage `json:"args"`
}
