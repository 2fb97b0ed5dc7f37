package enums

import (
	"fmt"
	"slices"
	"strings"
)

func member[T ~string](valid []T, v T) bool {
	return slices.Contains(valid, v)
}

// parse matches raw case-insensitively after trimming, since gateway payloads
// and query strings are not consistent about either.
func parse[T ~string](valid []T, kind, raw string) (T, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	for _, v := range valid {
		if string(v) == norm {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
