package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface over the three value shapes a variable can hold.
// Only Numeric, TextValue and BoolValue implement it.
type Value interface {
	value() // Sealed
	String() string
}

// Numeric is a floating point measurement. NaN is allowed and skipped by statistics.
type Numeric float64

func (Numeric) value() {}

// String uses the shortest representation that round-trips through ParseFloat.
func (n Numeric) String() string {
	f := float64(n)
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// TextValue is a label or free-text value.
type TextValue string

func (TextValue) value() {}

func (t TextValue) String() string { return string(t) }

// BoolValue is a boolean value.
type BoolValue bool

func (BoolValue) value() {}

func (b BoolValue) String() string { return strconv.FormatBool(bool(b)) }

// ValueOf wraps a native Go value. Integers and floats become Numeric,
// strings become TextValue, bools become BoolValue; anything else is formatted with %v.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case float64:
		return Numeric(x)
	case float32:
		return Numeric(x)
	case int:
		return Numeric(x)
	case int32:
		return Numeric(x)
	case int64:
		return Numeric(x)
	case uint:
		return Numeric(x)
	case uint32:
		return Numeric(x)
	case uint64:
		return Numeric(x)
	case bool:
		return BoolValue(x)
	case string:
		return TextValue(x)
	case fmt.Stringer:
		return TextValue(x.String())
	}
	return TextValue(fmt.Sprintf("%v", v))
}

// ParseValue parses the stored text form of a value of type t.
func ParseValue(t DataType, s string) (Value, error) {
	switch {
	case t.Numeric():
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", s)
		}
		return Numeric(f), nil
	case t.Class == ClassBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("value %q is not a boolean", s)
		}
		return BoolValue(b), nil
	case t.Class == ClassLabel || t.Class == ClassText:
		return TextValue(s), nil
	}
	return nil, fmt.Errorf("invalid data type %s", t)
}

// Coerce checks v against t. Text values given for numeric or boolean types
// are parsed, so callers may pass the raw textual measurement.
func Coerce(t DataType, v Value) (Value, error) {
	if v == nil {
		return nil, fmt.Errorf("missing value for type %s", t)
	}
	switch x := v.(type) {
	case Numeric:
		if t.Numeric() {
			return x, nil
		}
	case BoolValue:
		if t.Class == ClassBool {
			return x, nil
		}
	case TextValue:
		return ParseValue(t, string(x))
	}
	return nil, fmt.Errorf("value %s does not match type %s", v, t)
}

// Accepts reports whether v can be stored for a variable of type t.
func Accepts(t DataType, v Value) bool {
	_, err := Coerce(t, v)
	return err == nil
}
