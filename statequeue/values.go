package statequeue

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ValuesEqual compares state values the way adapters report them back.
// Values of the same type compare with ==. Across types, integers compare
// exactly, other numbers by value, anything else by its printed form. An
// acknowledged 1 from a JSON payload (float64) therefore matches a written
// int 1 or "1".
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta := reflect.TypeOf(a); ta == reflect.TypeOf(b) && ta.Comparable() {
		return a == b
	}
	if eq, ok := integersEqual(a, b); ok {
		return eq
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// integersEqual compares two integers without going through float64. ok is
// false unless both are integers.
func integersEqual(a, b any) (eq, ok bool) {
	sa, aSigned := toInt64(a)
	ua, aUnsigned := toUint64(a)
	sb, bSigned := toInt64(b)
	ub, bUnsigned := toUint64(b)

	switch {
	case aSigned && bSigned:
		return sa == sb, true
	case aUnsigned && bUnsigned:
		return ua == ub, true
	case aSigned && bUnsigned:
		return sa >= 0 && uint64(sa) == ub, true
	case aUnsigned && bSigned:
		return sb >= 0 && uint64(sb) == ua, true
	}
	return false, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
