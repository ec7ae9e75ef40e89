package vm

// ---------------------------------------------------------------------------
// Callables
// ---------------------------------------------------------------------------

// ParamKind classifies a parameter for argument binding.
type ParamKind uint8

const (
	// ParamPositional can only be bound positionally.
	ParamPositional ParamKind = iota
	// ParamPositionalOrKeyword can be bound either way.
	ParamPositionalOrKeyword
	// ParamVarPositional collects surplus positionals into a tuple (*args).
	ParamVarPositional
	// ParamKeywordOnly can only be bound by name.
	ParamKeywordOnly
	// ParamVarKeyword collects surplus keywords into a dict (**kwargs).
	ParamVarKeyword
)

// Parameter is one entry of a function signature.
type Parameter struct {
	Name    string
	Kind    ParamKind
	Default *Value // nil when the parameter is required
}

// Function is a user-defined function: a code object plus the environment
// captured at definition time.
type Function struct {
	Code        *CodeObject
	Name        string
	Qualname    string
	Params      []Parameter
	Globals     *Dict   // module globals the function was defined in
	Closure     []Value // cell values matching Code.Freevars
	Annotations *Dict   // may be nil
	Doc         Value
}

// ParamsFromCode derives the parameter list from a code object's varname
// layout: ArgCount positional-or-keyword slots (the first PosOnlyCount
// positional-only), then *args if flagged, then KwOnlyCount keyword-only
// slots, then **kwargs if flagged. Defaults are attached by MakeFunction.
func ParamsFromCode(code *CodeObject) []Parameter {
	params := make([]Parameter, 0, code.ArgCount+code.KwOnlyCount+2)
	idx := 0
	for i := 0; i < code.ArgCount; i++ {
		kind := ParamPositionalOrKeyword
		if i < code.PosOnlyCount {
			kind = ParamPositional
		}
		params = append(params, Parameter{Name: code.Varnames[idx], Kind: kind})
		idx++
	}
	if code.HasVarArgs() {
		params = append(params, Parameter{Name: code.Varnames[idx], Kind: ParamVarPositional})
		idx++
	}
	for i := 0; i < code.KwOnlyCount; i++ {
		params = append(params, Parameter{Name: code.Varnames[idx], Kind: ParamKeywordOnly})
		idx++
	}
	if code.HasVarKeywords() {
		params = append(params, Parameter{Name: code.Varnames[idx], Kind: ParamVarKeyword})
	}
	return params
}

// BuiltinFunc is the uniform native function signature.
type BuiltinFunc func(vm *VirtualMachine, args []Value) (Value, error)

// Builtin is a native function exposed to interpreted code.
type Builtin struct {
	Name string
	Fn   BuiltinFunc
}

// NewBuiltin wraps a native function as a callable value.
func NewBuiltin(name string, fn BuiltinFunc) Value {
	return NewBuiltinValue(&Builtin{Name: name, Fn: fn})
}

// BoundMethod pairs a receiver with a callable. Exactly one of Fn, Bltn,
// or Native is set: Fn for class functions, Bltn for builtins bound via
// attribute access, Native for str/list/dict methods dispatched by name.
type BoundMethod struct {
	Receiver Value
	Fn       *Function
	Bltn     *Builtin
	Native   string
}

// Name returns a display name for the method.
func (m *BoundMethod) Name() string {
	switch {
	case m.Fn != nil:
		return m.Fn.Qualname
	case m.Bltn != nil:
		return m.Bltn.Name
	default:
		return m.Native
	}
}
