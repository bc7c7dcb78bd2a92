package unit

import (
	"fmt"
	"reflect"
)

// InvalidError reports an implementation that does not satisfy the contract
// of its kind.
type InvalidError struct {
	// Type is the implementation type name.
	Type string
	// Base is the expected base contract.
	Base string
	// Reason describes the violation.
	Reason string
}

// Error implements error.
func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s is not a valid %s implementation: %s", e.Type, e.Base, e.Reason)
}

// Validate checks that impl satisfies the base contract of kind and exposes a
// well-formed entry operation. It does not register anything.
func Validate(kind Kind, impl any) error {
	base := BaseName(kind)
	if impl == nil {
		return &InvalidError{Type: "<nil>", Base: base, Reason: "nil implementation"}
	}
	name := TypeName(impl)
	t := reflect.TypeOf(impl)

	var baseType, firstArg reflect.Type
	switch kind {
	case KindWorker:
		baseType, firstArg = workerType, contextType
	case KindWorkflow:
		baseType, firstArg = workflowType, wfCtxType
	default:
		return &InvalidError{Type: name, Base: base, Reason: fmt.Sprintf("unknown unit kind %q", kind)}
	}
	if !t.Implements(baseType) {
		return &InvalidError{Type: name, Base: base, Reason: "does not embed the base contract"}
	}

	m := reflect.ValueOf(impl).MethodByName(EntryOperation)
	if !m.IsValid() {
		reason := "missing entry operation " + EntryOperation
		if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(baseType) {
			if _, ok := reflect.PointerTo(t).MethodByName(EntryOperation); ok {
				reason += " (declared on the pointer receiver, register a pointer)"
			}
		}
		return &InvalidError{Type: name, Base: base, Reason: reason}
	}
	return validateSignature(name, base, m.Type(), firstArg)
}

func validateSignature(name, base string, ft, firstArg reflect.Type) error {
	invalid := func(format string, args ...any) error {
		return &InvalidError{Type: name, Base: base, Reason: fmt.Sprintf(format, args...)}
	}
	if ft.IsVariadic() {
		return invalid("%s must accept positional arguments only", EntryOperation)
	}
	if ft.NumIn() == 0 || ft.In(0) != firstArg {
		return invalid("first argument of %s must be %s", EntryOperation, firstArg)
	}
	switch ft.NumOut() {
	case 1, 2:
	default:
		return invalid("%s must return error or (result, error)", EntryOperation)
	}
	if ft.Out(ft.NumOut()-1) != errorType {
		return invalid("last result of %s must be error", EntryOperation)
	}
	return nil
}
