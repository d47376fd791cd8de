package settings

import "strings"

// Kind discriminates the scalar types a settings leaf may hold.
type Kind uint8

const (
	KindString Kind = iota
	KindBool
)

// Value is a tagged scalar leaf: a string or a boolean. The explicit tag
// replaces the ad hoc string sniffing of earlier revisions of the storage
// format while preserving its external rendering ("True"/"False" literals
// for booleans).
type Value struct {
	kind Kind
	str  string
	b    bool
}

// String builds a string Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Bool builds a boolean Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// ParseScalar converts a raw stored string into a Value: after trimming,
// the literals "true"/"false" (case-insensitive) become booleans and
// anything else stays a trimmed string.
func ParseScalar(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return String(trimmed)
}

// Kind returns the scalar's tag.
func (v Value) Kind() Kind { return v.kind }

// StringVal returns the string payload; only meaningful for KindString.
func (v Value) StringVal() string { return v.str }

// BoolVal returns the boolean payload; only meaningful for KindBool.
func (v Value) BoolVal() bool { return v.b }

// Render returns the storage rendering of the scalar: the string itself,
// or the case-sensitive literals "True"/"False".
func (v Value) Render() string {
	if v.kind == KindBool {
		if v.b {
			return "True"
		}
		return "False"
	}
	return v.str
}

// Equal reports structural equality: same kind and same payload.
func (v Value) Equal(o Value) bool {
	return v == o
}

// AsJSON returns the value as a JSON-shaped scalar (string or bool).
func (v Value) AsJSON() interface{} {
	if v.kind == KindBool {
		return v.b
	}
	return v.str
}
