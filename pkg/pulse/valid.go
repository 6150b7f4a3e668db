package pulse

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// valid extracts an option of type T.
//
// An absent value (nil, or a nil func/pointer/map/...) yields the zero T, or a
// RequiredError when required is set. A present value must be assignable to T.
func valid[T any](value any, required bool, label string) (T, bool, error) {
	var zero T
	want := reflect.TypeFor[T]()
	if absent(value) {
		if required {
			return zero, false, &RequiredError{Label: label, Type: want.String()}
		}
		return zero, false, nil
	}
	if v, ok := value.(T); ok {
		return v, true, nil
	}
	// Untyped func literals are assignable to the named callback types.
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(want) {
		v, ok := rv.Convert(want).Interface().(T)
		if ok {
			return v, true, nil
		}
	}
	return zero, false, &MismatchError{Label: label, Type: want.String(), Got: fmt.Sprintf("%T", value)}
}

// validRange extracts a millisecond count and checks it lies within [min, max].
func validRange(min, max int64, value any, required bool, label string) (int64, bool, error) {
	if absent(value) {
		if required {
			return 0, false, &RequiredError{Label: label, Type: "number"}
		}
		return 0, false, nil
	}
	n, ok := millis(value)
	if !ok {
		return 0, false, &MismatchError{Label: label, Type: "number", Got: fmt.Sprintf("%T(%v)", value, value)}
	}
	if n < min || n > max {
		return 0, false, &RangeError{Label: label, Min: min, Max: max, Value: n}
	}
	return n, true, nil
}

func absent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// millis converts a numeric option to whole milliseconds.
// Durations are truncated to the millisecond; other numbers are taken as milliseconds.
func millis(v any) (int64, bool) {
	switch x := v.(type) {
	case time.Duration:
		return x.Milliseconds(), true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return uintMillis(uint64(x))
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return uintMillis(x)
	case float32:
		return floatMillis(float64(x))
	case float64:
		return floatMillis(x)
	}
	return 0, false
}

func uintMillis(x uint64) (int64, bool) {
	if x > math.MaxInt64 {
		return 0, false
	}
	return int64(x), true
}

// floatMillis accepts integral floats only (JSON and YAML decode numbers as float64).
func floatMillis(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
