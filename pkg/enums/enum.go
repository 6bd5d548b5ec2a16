// Package enums holds the string enums persisted by the billing tables. Each
// value matches a Postgres enum label in the migrations.
package enums

import (
	"fmt"
	"slices"
)

// set is the closed list of labels one enum accepts.
type set[T ~string] []T

func (s set[T]) has(v T) bool {
	return slices.Contains(s, v)
}

func (s set[T]) parse(kind, value string) (T, error) {
	if v := T(value); s.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
