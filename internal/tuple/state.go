package tuple

// FieldState describes the availability of a single tuple field.
//
// The zero value is NotAvailable. A field is Available once it has been
// written; Null is only meaningful in combination with Available.
type FieldState uint8

const (
	// NotAvailable marks a field that was never set or is not mapped.
	NotAvailable FieldState = 0

	// Available marks a field holding a value.
	Available FieldState = 1

	// Null is the null bit. It only appears together with Available.
	Null FieldState = 2

	// AvailableNull marks a field that was explicitly set to null.
	AvailableNull = Available | Null

	stateBits     = 2
	stateMask     = 1<<stateBits - 1
	statesPerWord = 64 / stateBits
)

// IsAvailable reports whether the field was set, to a value or to null.
func (s FieldState) IsAvailable() bool {
	return s&Available != 0
}

// IsNull reports whether the field is null. Only meaningful when IsAvailable.
func (s FieldState) IsNull() bool {
	return s&Null != 0
}

// HasValue reports whether the field is available and not null.
func (s FieldState) HasValue() bool {
	return s == Available
}

func (s FieldState) String() string {
	switch s {
	case NotAvailable:
		return "NotAvailable"
	case Available:
		return "Available"
	case AvailableNull:
		return "AvailableNull"
	default:
		return "Invalid"
	}
}

func stateWords(count int) int {
	return (count + statesPerWord - 1) / statesPerWord
}
