package vm

// ---------------------------------------------------------------------------
// Call frames and the block stack
// ---------------------------------------------------------------------------

// BlockKind identifies what pushed a block onto the frame's block stack.
type BlockKind uint8

const (
	// BlockLoop wraps a loop body; never catches, only scopes break/continue.
	BlockLoop BlockKind = iota
	// BlockExcept routes exceptions to an except handler.
	BlockExcept
	// BlockFinally routes exceptions, returns, breaks, and continues
	// through a finally handler via the marker protocol.
	BlockFinally
	// BlockWith behaves like Finally but is paired with a retained
	// __exit__ callable below its level.
	BlockWith
)

func (k BlockKind) String() string {
	switch k {
	case BlockLoop:
		return "loop"
	case BlockExcept:
		return "except"
	case BlockFinally:
		return "finally"
	case BlockWith:
		return "with"
	default:
		return "block"
	}
}

// Block is one entry of a frame's block stack.
type Block struct {
	Kind    BlockKind
	Handler int // absolute bytecode position of the handler
	Level   int // operand stack depth when the block was pushed
}

// Frame is one activation record: instruction pointer, operand stack,
// fixed locals, cell slots, and the block stack. Frames are confined to a
// single goroutine; a generator's frame moves between resumptions but is
// never shared concurrently.
type Frame struct {
	Code     *CodeObject
	Globals  *Dict
	Builtins *Dict

	ip       int
	stack    []Value
	locals   []Value // nil Value slots read back as unset
	localSet []bool  // tracks deleted/never-assigned locals
	cells    []Value // cellvars then freevars, all cell-tagged values
	blocks   []Block

	kwNames []string // staged by KW_NAMES for the next CALL

	// returned distinguishes a completed frame from one suspended at a
	// yield: both leave the dispatch loop, only Return sets this.
	returned    bool
	returnValue Value
}

// NewFrame creates a frame for the given code with empty locals. Cell slots
// for cellvars are fresh cells; freevar slots are filled from closure.
func NewFrame(code *CodeObject, globals *Dict, builtins *Dict, closure []Value) *Frame {
	f := &Frame{
		Code:     code,
		Globals:  globals,
		Builtins: builtins,
		stack:    make([]Value, 0, code.StackSize),
		locals:   make([]Value, code.NumLocals()),
		localSet: make([]bool, code.NumLocals()),
		cells:    make([]Value, 0, len(code.Cellvars)+len(code.Freevars)),
	}
	for range code.Cellvars {
		f.cells = append(f.cells, NewCell(None))
	}
	f.cells = append(f.cells, closure...)
	return f
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	f.stack = append(f.stack, v)
}

// Pop removes and returns the top of the operand stack.
// Panics on underflow; the dispatcher converts the panic to a fatal error.
func (f *Frame) Pop() Value {
	if len(f.stack) == 0 {
		panic("operand stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// Peek returns the top of the operand stack without removing it.
func (f *Frame) Peek() Value {
	if len(f.stack) == 0 {
		panic("operand stack underflow")
	}
	return f.stack[len(f.stack)-1]
}

// PeekN returns the value n entries below the top (PeekN(0) == Peek).
func (f *Frame) PeekN(n int) Value {
	idx := len(f.stack) - 1 - n
	if idx < 0 {
		panic("operand stack underflow")
	}
	return f.stack[idx]
}

// SetTop replaces the top of the operand stack.
func (f *Frame) SetTop(v Value) {
	if len(f.stack) == 0 {
		panic("operand stack underflow")
	}
	f.stack[len(f.stack)-1] = v
}

// PopN removes and returns the top n values in stack order (deepest first).
func (f *Frame) PopN(n int) []Value {
	if n > len(f.stack) {
		panic("operand stack underflow")
	}
	vals := make([]Value, n)
	copy(vals, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

// Depth returns the current operand stack depth.
func (f *Frame) Depth() int {
	return len(f.stack)
}

// TruncateTo discards stack entries above the given depth.
func (f *Frame) TruncateTo(depth int) {
	if depth < 0 || depth > len(f.stack) {
		panic("operand stack underflow")
	}
	f.stack = f.stack[:depth]
}

// ---------------------------------------------------------------------------
// Locals and cells
// ---------------------------------------------------------------------------

// GetLocal returns the local in the given slot, or false if unset/deleted.
func (f *Frame) GetLocal(slot uint16) (Value, bool) {
	if int(slot) >= len(f.locals) || !f.localSet[slot] {
		return None, false
	}
	return f.locals[slot], true
}

// SetLocal stores a value into a local slot.
func (f *Frame) SetLocal(slot uint16, v Value) {
	f.locals[slot] = v
	f.localSet[slot] = true
}

// DeleteLocal clears a local slot, reporting whether it was set.
func (f *Frame) DeleteLocal(slot uint16) bool {
	if int(slot) >= len(f.locals) || !f.localSet[slot] {
		return false
	}
	f.locals[slot] = None
	f.localSet[slot] = false
	return true
}

// Cell returns the cell value in the given deref slot.
func (f *Frame) Cell(slot uint16) (Value, bool) {
	if int(slot) >= len(f.cells) {
		return None, false
	}
	return f.cells[slot], true
}

// ---------------------------------------------------------------------------
// Block stack
// ---------------------------------------------------------------------------

// PushBlock records a new block at the current stack depth.
func (f *Frame) PushBlock(kind BlockKind, handler int) {
	f.blocks = append(f.blocks, Block{Kind: kind, Handler: handler, Level: len(f.stack)})
}

// PopBlock removes and returns the innermost block.
func (f *Frame) PopBlock() (Block, bool) {
	if len(f.blocks) == 0 {
		return Block{}, false
	}
	b := f.blocks[len(f.blocks)-1]
	f.blocks = f.blocks[:len(f.blocks)-1]
	return b, true
}

// TopBlock returns the innermost block without removing it.
func (f *Frame) TopBlock() (Block, bool) {
	if len(f.blocks) == 0 {
		return Block{}, false
	}
	return f.blocks[len(f.blocks)-1], true
}

// BlockDepth returns the number of live blocks.
func (f *Frame) BlockDepth() int {
	return len(f.blocks)
}
