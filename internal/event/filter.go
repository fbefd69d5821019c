package event

import (
	"github.com/PaesslerAG/jsonpath"
)

// SourceFilter matches events emitted by one module.
func SourceFilter(source string) Filter {
	return func(e *Event) bool {
		return e.Source == source
	}
}

// DataFilter matches events whose payload carries key with exactly value.
func DataFilter(key string, value any) Filter {
	return func(e *Event) bool {
		v, ok := e.Data[key]
		return ok && v == value
	}
}

// PathFilter matches events whose payload satisfies a JSONPath expression,
// e.g. `$.message.type` against a wanted value. An unresolvable path simply
// does not match; it never fails delivery.
func PathFilter(path string, want any) Filter {
	return func(e *Event) bool {
		got, err := jsonpath.Get(path, map[string]any(e.Data))
		if err != nil {
			return false
		}
		return got == want
	}
}

// All combines filters; every filter must match.
func All(filters ...Filter) Filter {
	return func(e *Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}
