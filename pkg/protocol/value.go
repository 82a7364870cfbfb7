package protocol

import "sort"

// Kind identifies the shape of a Value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindFloat
	KindIntArray
	KindFloatArray
	KindIntArrayList
	KindFloatArrayList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindIntArray:
		return "int-array"
	case KindFloatArray:
		return "float-array"
	case KindIntArrayList:
		return "int-array-list"
	case KindFloatArrayList:
		return "float-array-list"
	default:
		return "unknown"
	}
}

// Value is the union of parameter shapes exchanged between the parties:
// scalars, homogeneous numeric arrays, and lists of homogeneous arrays.
// Exactly one payload field is meaningful, selected by Kind.
type Value struct {
	Kind       Kind        `cbor:"kind"                  json:"kind"`
	Int        int64       `cbor:"int,omitempty"         json:"int,omitempty"`
	Float      float64     `cbor:"float,omitempty"       json:"float,omitempty"`
	Ints       []int64     `cbor:"ints,omitempty"        json:"ints,omitempty"`
	Floats     []float64   `cbor:"floats,omitempty"      json:"floats,omitempty"`
	IntLists   [][]int64   `cbor:"int_lists,omitempty"   json:"int_lists,omitempty"`
	FloatLists [][]float64 `cbor:"float_lists,omitempty" json:"float_lists,omitempty"`
}

func Int(v int64) Value {
	return Value{Kind: KindInt, Int: v}
}

func FloatValue(v float64) Value {
	return Value{Kind: KindFloat, Float: v}
}

func IntArray(v []int64) Value {
	return Value{Kind: KindIntArray, Ints: v}
}

func FloatArrayValue(v []float64) Value {
	return Value{Kind: KindFloatArray, Floats: v}
}

func IntArrayList(v [][]int64) Value {
	return Value{Kind: KindIntArrayList, IntLists: v}
}

func FloatArrayList(v [][]float64) Value {
	return Value{Kind: KindFloatArrayList, FloatLists: v}
}

// Params is a named bag of values exchanged within one communication round.
// Bags never outlive the round they belong to.
type Params map[string]Value

// DataTypes maps every parameter name of a masked bag to its arithmetic
// family.
type DataTypes map[string]DataType

// Names returns the sorted parameter names of the bag.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// SameNames reports whether two bags carry exactly the same parameter names.
func (p Params) SameNames(other Params) bool {
	if len(p) != len(other) {
		return false
	}
	for name := range p {
		if _, ok := other[name]; !ok {
			return false
		}
	}

	return true
}
