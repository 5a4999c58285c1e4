package fn

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrNotRegistered = errors.New("function not registered")
	ErrNotAFunction  = errors.New("argument is not a function")
	ErrBadSignature  = errors.New("function may return at most one value plus an error")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Registry maps names to callable Go functions.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]reflect.Value
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]reflect.Value)}
}

// Default is the process-wide registry used by the package-level
// functions and by bootstrap binaries.
var Default = NewRegistry()

// Register makes function callable under name. Registering the same
// name again replaces the previous function. The function may return
// nothing, a single value, an error, or a value and an error.
func (r *Registry) Register(name string, function interface{}) error {
	if name == "" {
		return errors.New("function name must not be empty")
	}
	v := reflect.ValueOf(function)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("register %q: %w", name, ErrNotAFunction)
	}
	t := v.Type()
	switch t.NumOut() {
	case 0, 1:
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("register %q: %w", name, ErrBadSignature)
		}
	default:
		return fmt.Errorf("register %q: %w", name, ErrBadSignature)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = v
	return nil
}

// MustRegister is Register for init-time use.
func (r *Registry) MustRegister(name string, function interface{}) {
	if err := r.Register(name, function); err != nil {
		panic(err)
	}
}

func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	return names
}

// InvokePayload decodes a Call payload and invokes it. The returned
// bytes are the JSON-encoded return value.
func (r *Registry) InvokePayload(payload []byte) ([]byte, error) {
	var call rawCall
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("decoding call payload: %w", err)
	}
	return r.invoke(call)
}

// Invoke runs an in-process Call, round-tripping the arguments through
// their wire encoding so in-process and remote invocations behave the
// same.
func (r *Registry) Invoke(call Call) ([]byte, error) {
	payload, err := call.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding call %q: %w", call.Function, err)
	}
	return r.InvokePayload(payload)
}

func (r *Registry) invoke(call rawCall) (result []byte, err error) {
	r.mu.RLock()
	function, ok := r.fns[call.Function]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", call.Function, ErrNotRegistered)
	}

	t := function.Type()
	args, err := decodeArgs(t, call.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Function, err)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", call.Function, p)
		}
	}()
	outs := function.Call(args)

	var value interface{}
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			if !outs[0].IsNil() {
				return nil, outs[0].Interface().(error)
			}
		} else {
			value = outs[0].Interface()
		}
	case 2:
		if !outs[1].IsNil() {
			return nil, outs[1].Interface().(error)
		}
		value = outs[0].Interface()
	}

	return json.Marshal(value)
}

func decodeArgs(t reflect.Type, raw []json.RawMessage) ([]reflect.Value, error) {
	numIn := t.NumIn()
	if t.IsVariadic() {
		if len(raw) < numIn-1 {
			return nil, fmt.Errorf("takes at least %d arguments, got %d", numIn-1, len(raw))
		}
	} else if len(raw) != numIn {
		return nil, fmt.Errorf("takes %d arguments, got %d", numIn, len(raw))
	}

	args := make([]reflect.Value, len(raw))
	for i, data := range raw {
		var paramType reflect.Type
		if t.IsVariadic() && i >= numIn-1 {
			paramType = t.In(numIn - 1).Elem()
		} else {
			paramType = t.In(i)
		}

		arg := reflect.New(paramType)
		if err := json.Unmarshal(data, arg.Interface()); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = arg.Elem()
	}
	return args, nil
}

// Package-level convenience over the Default registry.

func Register(name string, function interface{}) error {
	return Default.Register(name, function)
}

func MustRegister(name string, function interface{}) {
	Default.MustRegister(name, function)
}

func Invoke(call Call) ([]byte, error) {
	return Default.Invoke(call)
}

func InvokePayload(payload []byte) ([]byte, error) {
	return Default.InvokePayload(payload)
}

func Registered(name string) bool {
	return Default.Registered(name)
}
