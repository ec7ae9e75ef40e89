package vm

import "fmt"

// ---------------------------------------------------------------------------
// Exception objects
// ---------------------------------------------------------------------------

// Exception is a raised (or raisable) exception value. Class is the
// builtin class name; Type is set instead for user-defined exception
// classes and wins for display and matching.
type Exception struct {
	Class   string
	Type    *TypeObject
	Args    []Value
	Message string

	// Cause is the explicit `raise X from Y` link; setting it suppresses
	// the implicit context. Context is the exception that was already
	// active when this one was raised.
	Cause           *Exception
	Context         *Exception
	SuppressContext bool
}

// NewException creates a builtin-class exception with a message.
func NewException(class, message string) *Exception {
	e := &Exception{Class: class, Message: message}
	if message != "" {
		e.Args = []Value{NewStr(message)}
	}
	return e
}

// WithCause records an explicit cause and suppresses the implicit context.
func (e *Exception) WithCause(cause *Exception) *Exception {
	e.Cause = cause
	e.SuppressContext = true
	return e
}

// TypeName returns the exception's class name.
func (e *Exception) TypeName() string {
	if e.Type != nil {
		return e.Type.Name
	}
	return e.Class
}

// classValue returns the exception's class as a type value, as handed
// to __exit__ in the (type, value, traceback) triple.
func (e *Exception) classValue() Value {
	if e.Type != nil {
		return NewTypeValue(e.Type)
	}
	return NewTypeValue(NewBuiltinExceptionType(e.Class))
}

// exceptionParents is the builtin exception hierarchy: child → parent.
// BaseException is the root; classes absent from the table but present
// as keys' parents terminate there.
var exceptionParents = map[string]string{
	"Exception":           "BaseException",
	"SystemExit":          "BaseException",
	"KeyboardInterrupt":   "BaseException",
	"GeneratorExit":       "BaseException",
	"StopIteration":       "Exception",
	"StopAsyncIteration":  "Exception",
	"ArithmeticError":     "Exception",
	"ZeroDivisionError":   "ArithmeticError",
	"OverflowError":       "ArithmeticError",
	"FloatingPointError":  "ArithmeticError",
	"LookupError":         "Exception",
	"IndexError":          "LookupError",
	"KeyError":            "LookupError",
	"TypeError":           "Exception",
	"ValueError":          "Exception",
	"NameError":           "Exception",
	"UnboundLocalError":   "NameError",
	"AttributeError":      "Exception",
	"RuntimeError":        "Exception",
	"NotImplementedError": "RuntimeError",
	"RecursionError":      "RuntimeError",
	"ImportError":         "Exception",
	"ModuleNotFoundError": "ImportError",
	"OSError":             "Exception",
	"FileNotFoundError":   "OSError",
	"IOError":             "OSError",
	"UnicodeError":        "ValueError",
	"AssertionError":      "Exception",
}

// IsBuiltinException reports whether name is a known builtin exception
// class.
func IsBuiltinException(name string) bool {
	if name == "BaseException" {
		return true
	}
	_, ok := exceptionParents[name]
	return ok
}

// isExceptionSubclass walks the builtin hierarchy from class up to target.
func isExceptionSubclass(class, target string) bool {
	for {
		if class == target {
			return true
		}
		parent, ok := exceptionParents[class]
		if !ok {
			return false
		}
		class = parent
	}
}

// MatchesClass reports whether the exception is an instance of the given
// class name, following both user-defined bases and the builtin hierarchy.
func (e *Exception) MatchesClass(name string) bool {
	if e.Type != nil {
		for t := e.Type; t != nil; {
			if t.Name == name {
				return true
			}
			if t.BuiltinBase != "" {
				return isExceptionSubclass(t.BuiltinBase, name)
			}
			if len(t.Bases) == 0 {
				return isExceptionSubclass("Exception", name)
			}
			t = t.Bases[0]
		}
		return false
	}
	return isExceptionSubclass(e.Class, name)
}

// ---------------------------------------------------------------------------
// Error channel: raised exceptions vs fatal VM errors
// ---------------------------------------------------------------------------

// Raised is the error wrapper for an in-language exception traveling up
// the Go call stack. The dispatcher intercepts it for block-stack
// unwinding; unhandled, it surfaces to the embedder.
type Raised struct {
	Exc *Exception
}

// Error renders the exception the way an unhandled traceback footer does.
func (r *Raised) Error() string {
	if r.Exc.Message == "" {
		return r.Exc.TypeName()
	}
	return r.Exc.TypeName() + ": " + r.Exc.Message
}

// Raise wraps an exception as an error.
func Raise(e *Exception) error {
	return &Raised{Exc: e}
}

// AsRaised extracts the exception from an error, if it is one.
func AsRaised(err error) (*Exception, bool) {
	if r, ok := err.(*Raised); ok {
		return r.Exc, true
	}
	return nil, false
}

// FatalError is an unrecoverable VM fault: unknown opcode, truncated
// operand, stack underflow, re-raise with no active exception. Fatal
// errors bypass block-stack unwinding entirely.
type FatalError struct {
	Msg string
}

func (f *FatalError) Error() string {
	return "fatal: " + f.Msg
}

// fatalf creates a fatal error.
func fatalf(format string, args ...any) error {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is a VM fault rather than an exception.
func IsFatal(err error) bool {
	_, ok := err.(*FatalError)
	return ok
}

// Builtin exception constructors. Each returns a *Raised error.

func typeErrorf(format string, args ...any) error {
	return Raise(NewException("TypeError", fmt.Sprintf(format, args...)))
}

func valueErrorf(format string, args ...any) error {
	return Raise(NewException("ValueError", fmt.Sprintf(format, args...)))
}

func nameErrorf(format string, args ...any) error {
	return Raise(NewException("NameError", fmt.Sprintf(format, args...)))
}

func attributeErrorf(format string, args ...any) error {
	return Raise(NewException("AttributeError", fmt.Sprintf(format, args...)))
}

func indexErrorf(format string, args ...any) error {
	return Raise(NewException("IndexError", fmt.Sprintf(format, args...)))
}

func keyErrorf(format string, args ...any) error {
	return Raise(NewException("KeyError", fmt.Sprintf(format, args...)))
}

func importErrorf(format string, args ...any) error {
	return Raise(NewException("ImportError", fmt.Sprintf(format, args...)))
}

func runtimeErrorf(format string, args ...any) error {
	return Raise(NewException("RuntimeError", fmt.Sprintf(format, args...)))
}

func zeroDivisionError(msg string) error {
	return Raise(NewException("ZeroDivisionError", msg))
}

func stopIteration(value Value) error {
	e := NewException("StopIteration", "")
	if value != None {
		e.Args = []Value{value}
	}
	return Raise(e)
}

func generatorExit() error {
	return Raise(NewException("GeneratorExit", ""))
}
