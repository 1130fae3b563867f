package module

import (
	"reflect"
	"strings"
	"unicode"
)

// Normalize converts a Go identifier into the kebab-case form used for module identifiers,
// command names and option names: a hyphen is inserted before every upper-case letter that
// directly follows a lower-case letter, and the result is lower-cased.
//
//	Normalize("ModuleManager") == "module-manager"
//	Normalize("SS13Monitor")  == "ss13monitor"
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	prevLower := false
	for _, r := range name {
		if prevLower && unicode.IsUpper(r) {
			b.WriteRune('-')
		}
		prevLower = unicode.IsLower(r)
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}

// typeIdentifier derives a module identifier from t's name, dereferencing pointer types.
func typeIdentifier(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return Normalize(t.Name())
}
