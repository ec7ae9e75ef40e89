package vm

// ---------------------------------------------------------------------------
// Classes and instances
// ---------------------------------------------------------------------------

// TypeObject is a user-defined class (or a builtin exception class exposed
// as a value). BuiltinBase names the builtin exception class this type
// ultimately derives from, when it is an exception type.
type TypeObject struct {
	Name        string
	Qualname    string
	Bases       []*TypeObject
	MRO         []*TypeObject
	Dict        *Dict
	BuiltinBase string
}

// NewType creates a class with the given bases and attribute dict,
// computing the method resolution order immediately.
func NewType(name string, bases []*TypeObject, dict *Dict) *TypeObject {
	t := &TypeObject{Name: name, Qualname: name, Bases: bases, Dict: dict}
	if dict == nil {
		t.Dict = NewDict()
	}
	t.MRO = linearize(t)
	for _, base := range bases {
		if base.BuiltinBase != "" {
			t.BuiltinBase = base.BuiltinBase
			break
		}
	}
	return t
}

// NewBuiltinExceptionType exposes a builtin exception class as a type
// value so interpreted code can raise, catch, and subclass it.
func NewBuiltinExceptionType(name string) *TypeObject {
	t := &TypeObject{Name: name, Qualname: name, Dict: NewDict(), BuiltinBase: name}
	t.MRO = []*TypeObject{t}
	return t
}

// linearize computes the MRO: the class itself, then a depth-first,
// left-to-right walk of the bases with duplicates keeping their last
// position. Full C3 consistency checking is not performed; conflicting
// hierarchies resolve in declaration order.
func linearize(t *TypeObject) []*TypeObject {
	var order []*TypeObject
	seen := make(map[*TypeObject]bool)
	var visit func(c *TypeObject)
	visit = func(c *TypeObject) {
		if seen[c] {
			// Move the class later: remove the earlier occurrence.
			for i, existing := range order {
				if existing == c {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		}
		seen[c] = true
		order = append(order, c)
		for _, base := range c.Bases {
			visit(base)
		}
	}
	visit(t)
	return order
}

// LookupMRO searches the method resolution order for an attribute.
func (t *TypeObject) LookupMRO(name string) (Value, bool) {
	for _, c := range t.MRO {
		if v, ok := c.Dict.GetStr(name); ok {
			return v, true
		}
	}
	return None, false
}

// IsSubclassOf reports whether t appears at or above other in the MRO,
// or shares a builtin exception ancestry with it.
func (t *TypeObject) IsSubclassOf(other *TypeObject) bool {
	for _, c := range t.MRO {
		if c == other {
			return true
		}
	}
	if t.BuiltinBase != "" && other.BuiltinBase != "" {
		return isExceptionSubclass(t.BuiltinBase, other.BuiltinBase)
	}
	return false
}

// IsExceptionType reports whether instances of t can be raised.
func (t *TypeObject) IsExceptionType() bool {
	if t.BuiltinBase != "" {
		return true
	}
	for _, c := range t.MRO {
		if c.BuiltinBase != "" {
			return true
		}
	}
	return false
}

// Instance is an object created from a user-defined class.
type Instance struct {
	Type *TypeObject
	Dict *Dict
}

// NewInstance creates an empty instance of the given class.
func NewInstance(t *TypeObject) *Instance {
	return &Instance{Type: t, Dict: NewDict()}
}
