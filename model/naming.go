package model

import (
	"sync/atomic"
	"unicode"
)

// NameConverter maps a logical field name to a physical column name.
// Implementations must be deterministic.
type NameConverter func(string) string

var converter atomic.Value

func init() {
	converter.Store(NameConverter(SnakeCase))
}

// SetNameConverter replaces the converter used for fields without an
// explicit column tag. Schemas already built keep their column names, so
// call it before the first entity is parsed.
func SetNameConverter(fn NameConverter) {
	if fn == nil {
		fn = SnakeCase
	}
	converter.Store(fn)
}

// ColumnName converts a logical name with the current converter.
func ColumnName(name string) string {
	return converter.Load().(NameConverter)(name)
}

// SnakeCase converts CamelCase to snake_case, keeping acronyms together:
// "UserID" -> "user_id", "URL" -> "url", "HTTPServer" -> "http_server".
func SnakeCase(s string) string {
	rs := []rune(s)
	res := make([]rune, 0, len(rs)+4)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1]) ||
				(i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				res = append(res, '_')
			}
			res = append(res, unicode.ToLower(r))
			continue
		}
		res = append(res, r)
	}
	return string(res)
}
