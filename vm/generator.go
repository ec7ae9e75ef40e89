package vm

import "sync"

// ---------------------------------------------------------------------------
// Generators and coroutines
// ---------------------------------------------------------------------------

// GenState tracks a suspension object's lifecycle. Transitions only move
// forward: Created → Suspended/Running → Completed/Failed.
type GenState uint8

const (
	// GenCreated: built by the call, body not yet entered.
	GenCreated GenState = iota
	// GenSuspended: parked at a yield, frame retained.
	GenSuspended
	// GenRunning: currently executing; reentry is an error.
	GenRunning
	// GenCompleted: returned or closed; frame released.
	GenCompleted
	// GenFailed: terminated by an exception; frame released.
	GenFailed
)

// resumeFunc re-enters a suspended frame. send is pushed as the result of
// the yield that parked the frame (ignored on first entry); throw, when
// non-nil, is raised at the resume point instead. It reports the yielded
// value and whether the frame ran to completion.
type resumeFunc func(f *Frame, send Value, throw *Exception) (Value, bool, error)

// Generator is the suspension object behind both generators and
// coroutines (the Kind of the wrapping Object distinguishes them). The
// mutex guards the state transitions; the frame itself is only ever
// touched by the goroutine that won the transition to Running.
type Generator struct {
	mu sync.Mutex

	Name     string
	Qualname string

	state  GenState
	frame  *Frame
	resume resumeFunc
}

// NewGenerator wraps a freshly bound frame as a suspension object.
func NewGenerator(name, qualname string, frame *Frame, resume resumeFunc) *Generator {
	return &Generator{Name: name, Qualname: qualname, frame: frame, resume: resume}
}

// State returns the current lifecycle state.
func (g *Generator) State() GenState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// beginResume validates the transition to Running and takes the frame.
func (g *Generator) beginResume(send Value) (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case GenRunning:
		return nil, valueErrorf("generator already executing")
	// The return value travels on the StopIteration raised at the
	// moment of completion; later resumes raise it bare.
	case GenCompleted, GenFailed:
		return nil, stopIteration(None)
	case GenCreated:
		if send != None {
			return nil, typeErrorf("can't send non-None value to a just-started generator")
		}
	}
	f := g.frame
	g.frame = nil
	g.state = GenRunning
	return f, nil
}

// finishResume records the outcome of a resumption.
func (g *Generator) finishResume(f *Frame, yielded Value, done bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case err != nil:
		g.state = GenFailed
	case done:
		g.state = GenCompleted
	default:
		g.state = GenSuspended
		g.frame = f
	}
}

// Send resumes the generator with a value; the yield expression that
// parked it evaluates to that value. Completion surfaces as StopIteration
// carrying the return value.
func (g *Generator) Send(value Value) (Value, error) {
	f, err := g.beginResume(value)
	if err != nil {
		return None, err
	}
	yielded, done, err := g.resume(f, value, nil)
	g.finishResume(f, yielded, done, err)
	if err != nil {
		return None, err
	}
	if done {
		return None, stopIteration(yielded)
	}
	return yielded, nil
}

// Next is Send(None): the iterator protocol entry point.
func (g *Generator) Next() (Value, error) {
	return g.Send(None)
}

// Throw raises an exception at the generator's resume point. A generator
// that has not started, or has finished, propagates the exception without
// running any body code.
func (g *Generator) Throw(exc *Exception) (Value, error) {
	g.mu.Lock()
	switch g.state {
	case GenRunning:
		g.mu.Unlock()
		return None, valueErrorf("generator already executing")
	case GenCreated, GenCompleted, GenFailed:
		g.state = GenFailed
		g.frame = nil
		g.mu.Unlock()
		return None, Raise(exc)
	}
	f := g.frame
	g.frame = nil
	g.state = GenRunning
	g.mu.Unlock()

	yielded, done, err := g.resume(f, None, exc)
	g.finishResume(f, yielded, done, err)
	if err != nil {
		return None, err
	}
	if done {
		return None, stopIteration(yielded)
	}
	return yielded, nil
}

// Close throws GeneratorExit into the generator. Swallowing the exit and
// yielding again is an error; completing or re-raising GeneratorExit (or
// StopIteration) is a clean close.
func (g *Generator) Close() error {
	g.mu.Lock()
	if g.state == GenCreated || g.state == GenCompleted || g.state == GenFailed {
		g.state = GenCompleted
		g.frame = nil
		g.mu.Unlock()
		return nil
	}
	if g.state == GenRunning {
		g.mu.Unlock()
		return valueErrorf("generator already executing")
	}
	f := g.frame
	g.frame = nil
	g.state = GenRunning
	g.mu.Unlock()

	yielded, done, err := g.resume(f, None, NewException("GeneratorExit", ""))
	_ = yielded
	if err != nil {
		if exc, ok := AsRaised(err); ok &&
			(exc.MatchesClass("GeneratorExit") || exc.MatchesClass("StopIteration")) {
			g.finishResume(f, None, true, nil)
			return nil
		}
		g.finishResume(f, None, false, err)
		return err
	}
	if !done {
		g.finishResume(f, None, false, nil)
		return runtimeErrorf("generator ignored GeneratorExit")
	}
	g.finishResume(f, None, true, nil)
	return nil
}
