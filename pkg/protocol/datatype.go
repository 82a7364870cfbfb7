package protocol

// DataType tags a parameter value with the arithmetic family used to mask and
// aggregate it. The non-negative integer family is combined modulo a fixed
// prime; the signed families are combined with plain sums.
type DataType uint8

const (
	NonNegativeInteger DataType = iota + 1
	NegativeInteger
	Float
	NonNegativeIntegerArray
	NegativeIntegerArray
	FloatArray
	ListOfNonNegativeIntegerArray
	ListOfNegativeIntegerArray
	ListOfFloatArray
)

func (dt DataType) String() string {
	switch dt {
	case NonNegativeInteger:
		return "non-negative-integer"
	case NegativeInteger:
		return "negative-integer"
	case Float:
		return "float"
	case NonNegativeIntegerArray:
		return "non-negative-integer-array"
	case NegativeIntegerArray:
		return "negative-integer-array"
	case FloatArray:
		return "float-array"
	case ListOfNonNegativeIntegerArray:
		return "list-of-non-negative-integer-array"
	case ListOfNegativeIntegerArray:
		return "list-of-negative-integer-array"
	case ListOfFloatArray:
		return "list-of-float-array"
	default:
		return "unknown"
	}
}

// Modular reports whether values of this type are combined modulo the
// aggregation prime.
func (dt DataType) Modular() bool {
	switch dt {
	case NonNegativeInteger, NonNegativeIntegerArray, ListOfNonNegativeIntegerArray:
		return true
	default:
		return false
	}
}

// ValueKind returns the value shape a parameter of this type must carry.
func (dt DataType) ValueKind() Kind {
	switch dt {
	case NonNegativeInteger, NegativeInteger:
		return KindInt
	case Float:
		return KindFloat
	case NonNegativeIntegerArray, NegativeIntegerArray:
		return KindIntArray
	case FloatArray:
		return KindFloatArray
	case ListOfNonNegativeIntegerArray, ListOfNegativeIntegerArray:
		return KindIntArrayList
	case ListOfFloatArray:
		return KindFloatArrayList
	default:
		return 0
	}
}
