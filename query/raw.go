package query

import (
	"strings"
)

// rewrite resolves a raw fragment: [Field] (optionally alias qualified,
// as in T0.[Field]) becomes the column of a bound entity and @name
// becomes a fresh parameter holding params[name]. The same @name used
// twice binds one parameter. Quoted literals are copied untouched.
func (q *Query) rewrite(op, fragment string, params map[string]any) (string, bool) {
	var sb strings.Builder
	named := make(map[string]string)
	for i := 0; i < len(fragment); {
		c := fragment[i]
		switch {
		case c == '\'':
			end := literalEnd(fragment, i)
			if end < 0 {
				q.fail(op, "", ErrInvalidValue, "unterminated literal in %q", fragment)
				return "", false
			}
			sb.WriteString(fragment[i:end])
			i = end

		case c == '[':
			end := strings.IndexByte(fragment[i:], ']')
			if end < 0 {
				q.fail(op, "", ErrInvalidValue, "unterminated [ in %q", fragment)
				return "", false
			}
			name := fragment[i+1 : i+end]
			alias := trailingAlias(sb.String())
			col, ok := q.rawColumn(name, alias)
			if !ok {
				q.fail(op, name, ErrUnknownField, "not a field of a bound entity")
				return "", false
			}
			if alias != "" {
				s := sb.String()
				sb.Reset()
				sb.WriteString(s[:len(s)-len(alias)-1])
			}
			sb.WriteString(col)
			i += end + 1

		case c == '@' && i+1 < len(fragment) && isIdent(fragment[i+1], true):
			j := i + 1
			for j < len(fragment) && isIdent(fragment[j], false) {
				j++
			}
			p, ok := q.namedParam(op, fragment[i+1:j], params, named)
			if !ok {
				return "", false
			}
			sb.WriteString(p)
			i = j

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), true
}

// rawColumn resolves a field or column name. With an alias only that
// entity is searched; otherwise the first bound entity declaring it wins.
func (q *Query) rawColumn(name, alias string) (string, bool) {
	if alias != "" {
		b := q.bindingByAlias(alias)
		if b == nil {
			return "", false
		}
		f, ok := b.schema.Lookup(name)
		if !ok {
			return "", false
		}
		return b.ref(f), true
	}
	for p := q; p != nil; p = p.parent {
		for _, b := range p.bindings {
			if f, ok := b.schema.Lookup(name); ok {
				return b.ref(f), true
			}
		}
	}
	return "", false
}

// trailingAlias returns the identifier immediately before a trailing dot.
func trailingAlias(s string) string {
	if !strings.HasSuffix(s, ".") {
		return ""
	}
	s = s[:len(s)-1]
	i := len(s)
	for i > 0 && isIdent(s[i-1], false) {
		i--
	}
	if i == len(s) || !isIdent(s[i], true) {
		return ""
	}
	return s[i:]
}

func literalEnd(s string, start int) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != '\'' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			i++
			continue
		}
		return i + 1
	}
	return -1
}

func isIdent(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

// bindNamed binds each @name of fragment as a fresh parameter and leaves
// everything else, [columns] included, as written.
func (q *Query) bindNamed(op, fragment string, params map[string]any) (string, bool) {
	var sb strings.Builder
	named := make(map[string]string)
	for i := 0; i < len(fragment); {
		c := fragment[i]
		switch {
		case c == '\'':
			end := literalEnd(fragment, i)
			if end < 0 {
				q.fail(op, "", ErrInvalidValue, "unterminated literal in %q", fragment)
				return "", false
			}
			sb.WriteString(fragment[i:end])
			i = end

		case c == '[':
			end := strings.IndexByte(fragment[i:], ']')
			if end < 0 {
				q.fail(op, "", ErrInvalidValue, "unterminated [ in %q", fragment)
				return "", false
			}
			sb.WriteString(fragment[i : i+end+1])
			i += end + 1

		case c == '@' && i+1 < len(fragment) && isIdent(fragment[i+1], true):
			j := i + 1
			for j < len(fragment) && isIdent(fragment[j], false) {
				j++
			}
			p, ok := q.namedParam(op, fragment[i+1:j], params, named)
			if !ok {
				return "", false
			}
			sb.WriteString(p)
			i = j

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), true
}

// namedParam returns the parameter bound for @name, binding params[name]
// on first use within one fragment.
func (q *Query) namedParam(op, name string, params map[string]any, named map[string]string) (string, bool) {
	if p, ok := named[name]; ok {
		return p, true
	}
	v, ok := params[name]
	if !ok {
		q.fail(op, name, ErrInvalidValue, "no value for @%s", name)
		return "", false
	}
	p := q.bindParam(v)
	named[name] = p
	return p, true
}
