package utils

import "fmt"

// LookupCopy fetches m[key] and returns it by value, detached from the map,
// so the result stays safe to use after the owning lock is released. Absent
// keys and nil entries both report not found.
func LookupCopy[T any](m map[string]*T, key string) (T, error) {
	if v := m[key]; v != nil {
		return *v, nil
	}
	var zero T
	return zero, fmt.Errorf("%q not found", key)
}
