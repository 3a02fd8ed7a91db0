package dialect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/shrek82/oql/model"
)

// Dialect represents the database-specific parts of SQL generation:
// identifier quoting, placeholder syntax, pagination and DDL.
type Dialect interface {
	// Name returns the canonical dialect name.
	Name() string
	// Quote wraps a name (table or column) in database-specific quotes.
	Quote(name string) string
	// Placeholder returns the driver placeholder for the 1-based index.
	Placeholder(index int) string
	// SequenceSQL returns the expression yielding the next sequence value.
	SequenceSQL(name string) string
	// PageSQL wraps a base query into a windowed query for one page.
	PageSQL(p Page) (string, error)
	// ColumnDef renders a column definition (type and constraints) for DDL.
	ColumnDef(f *model.Field, inlinePK bool) string
	// HasTableSQL generates the SQL to check if a table exists.
	HasTableSQL(table string) (string, []any)
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

// Register registers a dialect for a driver name.
func Register(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// Get retrieves a registered dialect by driver name.
func Get(name string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	return d, ok
}

// MustGet is Get for dialect names known at compile time.
func MustGet(name string) Dialect {
	d, ok := Get(name)
	if !ok {
		panic(fmt.Sprintf("oql: unknown dialect %q", name))
	}
	return d
}

// Names lists the registered driver names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("mysql", &mysql{})
	Register("sqlite3", &sqlite{name: "sqlite3"})
	Register("sqlite", &sqlite{name: "sqlite"})
	Register("postgres", &postgres{})
	Register("pgx", &postgres{})
	Register("sqlserver", &sqlserver{})
	Register("mssql", &sqlserver{})
	Register("oracle", &oracle{})
	Register("godror", &oracle{})
}

// Bind rewrites neutral SQL into the dialect's final form: [ident] becomes
// a quoted identifier and @name becomes a driver placeholder. Arguments are
// returned in order of appearance; text inside single quotes is left alone.
func Bind(d Dialect, sqlText string, params map[string]any) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.Grow(len(sqlText) + 16)
	rs := []rune(sqlText)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\'':
			j := i + 1
			for ; j < len(rs); j++ {
				if rs[j] == '\'' {
					if j+1 < len(rs) && rs[j+1] == '\'' {
						j++
						continue
					}
					break
				}
			}
			if j >= len(rs) {
				return "", nil, errors.Errorf("unterminated string literal in %q", sqlText)
			}
			sb.WriteString(string(rs[i : j+1]))
			i = j
		case r == '[':
			j := i + 1
			for j < len(rs) && rs[j] != ']' {
				j++
			}
			if j >= len(rs) {
				return "", nil, errors.Errorf("unterminated identifier in %q", sqlText)
			}
			sb.WriteString(d.Quote(string(rs[i+1 : j])))
			i = j
		case r == '@' && i+1 < len(rs) && isIdentStart(rs[i+1]):
			j := i + 1
			for j < len(rs) && isIdentPart(rs[j]) {
				j++
			}
			name := string(rs[i+1 : j])
			v, ok := params[name]
			if !ok {
				return "", nil, errors.Errorf("missing value for parameter @%s", name)
			}
			args = append(args, v)
			sb.WriteString(d.Placeholder(len(args)))
			i = j - 1
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String(), args, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

// CreateTableSQL renders CREATE TABLE for a schema.
func CreateTableSQL(d Dialect, s *model.Schema) string {
	inline := len(s.PrimaryKeys) == 1
	cols := make([]string, 0, len(s.Fields)+1)
	for _, f := range s.Fields {
		cols = append(cols, d.Quote(f.Column)+" "+d.ColumnDef(f, inline && f.IsPK))
	}
	if len(s.PrimaryKeys) > 1 {
		keys := make([]string, len(s.PrimaryKeys))
		for i, f := range s.PrimaryKeys {
			keys[i] = d.Quote(f.Column)
		}
		cols = append(cols, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(s.Table), strings.Join(cols, ", "))
}

// constraints appends NOT NULL, UNIQUE and DEFAULT clauses.
func constraints(def string, f *model.Field) string {
	if f.NotNull && !f.IsPK {
		def += " NOT NULL"
	}
	if f.Unique && !f.IsPK {
		def += " UNIQUE"
	}
	if f.Default != "" {
		def += " DEFAULT " + f.Default
	}
	return def
}

// Page describes one page of a base query.
type Page struct {
	Base   string
	Filter string // optional extra predicate over the base rows
	Size   int
	Number int
	Total  int64 // known row count, 0 when unknown
}

var structural = regexp.MustCompile(`(?i)\b(WHERE|ORDER\s+BY)\b`)

// ErrInvalidFilter is returned for a filter carrying its own WHERE or ORDER BY.
var ErrInvalidFilter = errors.New("page filter must not contain WHERE or ORDER BY")

func (p Page) source() (string, error) {
	if p.Filter == "" {
		return p.Base, nil
	}
	if structural.MatchString(p.Filter) {
		return "", errors.Wrapf(ErrInvalidFilter, "filter %q", p.Filter)
	}
	return "SELECT * FROM (" + p.Base + ") oql_f WHERE " + p.Filter, nil
}

// Window returns the zero-based offset and the page size, clamping the
// page number into [1, lastPage] when the total is known.
func (p Page) Window() (offset, size int, err error) {
	if p.Size <= 0 {
		return 0, 0, errors.Errorf("page size must be positive, got %d", p.Size)
	}
	n := p.Number
	if n < 1 {
		n = 1
	}
	if p.Total > 0 {
		last := int((p.Total + int64(p.Size) - 1) / int64(p.Size))
		if n > last {
			n = last
		}
	}
	return (n - 1) * p.Size, p.Size, nil
}

// CountSQL renders the row count query for the page's base (and filter).
func CountSQL(p Page) (string, error) {
	src, err := p.source()
	if err != nil {
		return "", err
	}
	return "SELECT COUNT(*) FROM (" + src + ") oql_count", nil
}

// limitOffset is the MySQL family form: LIMIT n on the first page,
// LIMIT offset, n after it.
func limitOffset(p Page) (string, error) {
	src, err := p.source()
	if err != nil {
		return "", err
	}
	offset, size, err := p.Window()
	if err != nil {
		return "", err
	}
	if offset == 0 {
		return fmt.Sprintf("%s LIMIT %d", src, size), nil
	}
	return fmt.Sprintf("%s LIMIT %d, %d", src, offset, size), nil
}
