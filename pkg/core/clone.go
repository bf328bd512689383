package core

import (
	"fmt"
	"math"
	"reflect"
)

// CloneData deep-copies observation data. Nested maps and slices are copied too, so
// the result shares nothing mutable with m. A nil map becomes an empty one.
func CloneData(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return CloneData(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}

	// Typed containers such as []int or map[string]float64 handed over by a simulation.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Index(i)))
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value()))
		}
		return out.Interface()
	}
	return v
}

func cloneElem(e reflect.Value) reflect.Value {
	c := cloneValue(e.Interface())
	if c == nil {
		return reflect.Zero(e.Type())
	}
	return reflect.ValueOf(c)
}

// CheckFinite reports the first NaN or infinite number in v, which cannot be sent as JSON.
func CheckFinite(path string, v any) error {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s is %v", path, x)
		}
	case float32:
		return CheckFinite(path, float64(x))
	case map[string]any:
		for k, e := range x {
			if err := CheckFinite(path+"."+k, e); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range x {
			if err := CheckFinite(fmt.Sprintf("%s[%d]", path, i), e); err != nil {
				return err
			}
		}
	case []float64:
		for i, e := range x {
			if err := CheckFinite(fmt.Sprintf("%s[%d]", path, i), e); err != nil {
				return err
			}
		}
	}
	return nil
}
