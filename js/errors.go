package js

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// DOMError represents a DOM exception with a name and message.
type DOMError struct {
	Name    string
	Message string
}

func (e *DOMError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ErrDataClone creates a DataCloneError.
func ErrDataClone(message string) *DOMError {
	return &DOMError{Name: "DataCloneError", Message: message}
}

// ErrInvalidState creates an InvalidStateError.
func ErrInvalidState(message string) *DOMError {
	return &DOMError{Name: "InvalidStateError", Message: message}
}

// ErrSyntax creates a SyntaxError.
func ErrSyntax(message string) *DOMError {
	return &DOMError{Name: "SyntaxError", Message: message}
}

// ErrTaskLimit is returned by Host.RunUntilIdle when the per-turn task
// budget runs out with work still queued.
var ErrTaskLimit = errors.New("task limit reached with work still pending")

// legacyCodes maps DOMException names to their legacy numeric code.
var legacyCodes = map[string]int{
	"IndexSizeError":     1,
	"NotFoundError":      8,
	"NotSupportedError":  9,
	"InvalidStateError":  11,
	"SyntaxError":        12,
	"InvalidAccessError": 15,
	"SecurityError":      18,
	"DataCloneError":     25,
}

// setupDOMException installs the DOMException constructor.
func (s *GlobalScope) setupDOMException() {
	vm := s.vm
	ctor := s.defineInterface("DOMException", "", func(call goja.ConstructorCall) *goja.Object {
		message := ""
		name := "Error"
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
			message = call.Arguments[0].String()
		}
		if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) {
			name = call.Arguments[1].String()
		}
		exc := call.This
		exc.Set("message", message)
		exc.Set("name", name)
		exc.Set("code", legacyCodes[name])
		return exc
	})

	// DOMException extends Error prototype
	errorProto := vm.Get("Error").ToObject(vm).Get("prototype").ToObject(vm)
	s.prototypes["DOMException"].SetPrototype(errorProto)

	ctor.Set("INVALID_STATE_ERR", 11)
	ctor.Set("SYNTAX_ERR", 12)
	ctor.Set("DATA_CLONE_ERR", 25)
}

// newDOMException creates a DOMException object through the global
// constructor so instanceof works.
func (s *GlobalScope) newDOMException(name, message string) *goja.Object {
	vm := s.vm
	if ctor, ok := goja.AssertConstructor(vm.Get("DOMException")); ok {
		if exc, err := ctor(nil, vm.ToValue(message), vm.ToValue(name)); err == nil {
			return exc
		}
	}
	exc := vm.NewObject()
	exc.Set("name", name)
	exc.Set("message", message)
	exc.Set("code", legacyCodes[name])
	return exc
}

// throwDOMError throws err into script. DOMErrors become DOMExceptions,
// anything else a TypeError.
func (s *GlobalScope) throwDOMError(err error) {
	var domErr *DOMError
	if errors.As(err, &domErr) {
		panic(s.vm.ToValue(s.newDOMException(domErr.Name, domErr.Message)))
	}
	panic(s.vm.NewTypeError(err.Error()))
}
