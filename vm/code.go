package vm

// ---------------------------------------------------------------------------
// Code objects
// ---------------------------------------------------------------------------

// CodeFlags describe structural properties of a code object.
type CodeFlags uint16

const (
	// FlagVarArgs marks a trailing *args parameter.
	FlagVarArgs CodeFlags = 1 << iota
	// FlagVarKeywords marks a trailing **kwargs parameter.
	FlagVarKeywords
	// FlagGenerator marks code containing a yield; calling builds a
	// generator object instead of executing.
	FlagGenerator
	// FlagCoroutine marks async code; calling builds a coroutine object.
	FlagCoroutine
	// FlagNested marks code defined inside another function.
	FlagNested
)

// CodeObject is an immutable compiled unit: the bytecode plus the tables
// its instructions index into. Shared freely across functions and frames.
type CodeObject struct {
	Name     string // unqualified name ("<module>" for module code)
	Qualname string // dotted path within the module
	Filename string

	Bytecode  []byte
	Constants []Value  // LOAD_CONST pool; nested code objects live here
	Names     []string // attribute/global/import names
	Varnames  []string // local variable slots, parameters first
	Freevars  []string // closed-over names captured from enclosing scopes
	Cellvars  []string // locals captured by nested functions

	ArgCount     int // positional parameter count (excluding *args)
	PosOnlyCount int // leading positional-only parameters
	KwOnlyCount  int // keyword-only parameters
	StackSize    int // operand stack high-water mark
	FirstLine    int
	Flags        CodeFlags
}

// IsGenerator reports whether calling this code suspends instead of runs.
func (c *CodeObject) IsGenerator() bool { return c.Flags&FlagGenerator != 0 }

// IsCoroutine reports whether this code is async.
func (c *CodeObject) IsCoroutine() bool { return c.Flags&FlagCoroutine != 0 }

// HasVarArgs reports a *args parameter.
func (c *CodeObject) HasVarArgs() bool { return c.Flags&FlagVarArgs != 0 }

// HasVarKeywords reports a **kwargs parameter.
func (c *CodeObject) HasVarKeywords() bool { return c.Flags&FlagVarKeywords != 0 }

// NumLocals returns the size of the frame's fixed locals array.
func (c *CodeObject) NumLocals() int { return len(c.Varnames) }

// ConstantIndex returns the pool entry at idx, or an error for bad indices
// coming from corrupted bytecode.
func (c *CodeObject) Constant(idx uint16) (Value, bool) {
	if int(idx) >= len(c.Constants) {
		return None, false
	}
	return c.Constants[idx], true
}

// NameAt returns the name-table entry at idx.
func (c *CodeObject) NameAt(idx uint16) (string, bool) {
	if int(idx) >= len(c.Names) {
		return "", false
	}
	return c.Names[idx], true
}

// ---------------------------------------------------------------------------
// CodeBuilder: fluent construction, used by tests and the image reader
// ---------------------------------------------------------------------------

// CodeBuilder assembles a CodeObject.
type CodeBuilder struct {
	code CodeObject
}

// NewCodeBuilder starts a builder for a named code object.
func NewCodeBuilder(name string) *CodeBuilder {
	return &CodeBuilder{code: CodeObject{Name: name, Qualname: name, Filename: "<builder>"}}
}

// Bytecode sets the instruction stream.
func (b *CodeBuilder) Bytecode(bc []byte) *CodeBuilder {
	b.code.Bytecode = bc
	return b
}

// Constant appends a constant and returns its pool index.
func (b *CodeBuilder) Constant(v Value) uint16 {
	b.code.Constants = append(b.code.Constants, v)
	return uint16(len(b.code.Constants) - 1)
}

// Name appends a name-table entry and returns its index.
func (b *CodeBuilder) Name(s string) uint16 {
	b.code.Names = append(b.code.Names, s)
	return uint16(len(b.code.Names) - 1)
}

// Local appends a local variable slot and returns its index.
func (b *CodeBuilder) Local(s string) uint16 {
	b.code.Varnames = append(b.code.Varnames, s)
	return uint16(len(b.code.Varnames) - 1)
}

// Cell appends a cell variable slot and returns its index.
func (b *CodeBuilder) Cell(s string) uint16 {
	b.code.Cellvars = append(b.code.Cellvars, s)
	return uint16(len(b.code.Cellvars) - 1)
}

// Free appends a free variable slot and returns its index relative to the
// combined cell+free deref space.
func (b *CodeBuilder) Free(s string) uint16 {
	b.code.Freevars = append(b.code.Freevars, s)
	return uint16(len(b.code.Cellvars) + len(b.code.Freevars) - 1)
}

// Args sets the positional argument count.
func (b *CodeBuilder) Args(n int) *CodeBuilder {
	b.code.ArgCount = n
	return b
}

// Flags ORs in the given flags.
func (b *CodeBuilder) Flags(f CodeFlags) *CodeBuilder {
	b.code.Flags |= f
	return b
}

// Build finalizes the code object.
func (b *CodeBuilder) Build() *CodeObject {
	c := b.code
	if c.StackSize == 0 {
		c.StackSize = 16
	}
	return &c
}
