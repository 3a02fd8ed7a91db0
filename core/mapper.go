package core

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shrek82/oql/model"
)

// TimeScanner reads DATETIME columns delivered as time.Time, text or
// bytes. Empty strings and MySQL zero dates scan as not valid.
type TimeScanner struct {
	Value time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (t *TimeScanner) Scan(src any) error {
	t.Value, t.Valid = time.Time{}, false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		t.Value, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Value, t.Valid = time.Unix(v, 0), true
		return nil
	}
	return errors.Errorf("cannot scan %T into time", src)
}

func (t *TimeScanner) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Value, t.Valid = v, true
			return nil
		}
	}
	return errors.Errorf("cannot parse %q as time", s)
}

type destKind int

const (
	destStruct destKind = iota
	destMap
	destScalar
)

// rowMapper scans rows of one result set into values of one type.
type rowMapper struct {
	kind   destKind
	elem   reflect.Type // slice element type
	ptr    bool         // element is *struct
	cols   []string
	fields []*model.Field // per column, nil when unmapped
}

func newRowMapper(elem reflect.Type, cols []string) (*rowMapper, error) {
	m := &rowMapper{elem: elem, cols: cols}
	base := elem
	if base.Kind() == reflect.Ptr && base.Elem().Kind() == reflect.Struct {
		base, m.ptr = base.Elem(), true
	}
	switch {
	case base.Kind() == reflect.Map && base.Key().Kind() == reflect.String && base.Elem().Kind() == reflect.Interface:
		m.kind = destMap
	case base.Kind() == reflect.Struct && base != reflect.TypeOf(time.Time{}):
		s, err := model.ParseType(base)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidModel, err.Error())
		}
		m.kind = destStruct
		m.fields = make([]*model.Field, len(cols))
		for i, c := range cols {
			if f, ok := s.Lookup(c); ok {
				m.fields[i] = f
			} else if f, ok := s.FieldByColumn(strings.ToLower(c)); ok {
				m.fields[i] = f
			}
		}
	default:
		if len(cols) != 1 {
			return nil, errors.WithMessagef(ErrInvalidQuery, "%d columns cannot scan into %s", len(cols), elem)
		}
		m.kind = destScalar
	}
	return m, nil
}

func (m *rowMapper) holders() []any {
	out := make([]any, len(m.cols))
	for i := range m.cols {
		if m.kind == destStruct && m.fields[i] != nil && m.fields[i].IsTime() {
			out[i] = &TimeScanner{}
			continue
		}
		out[i] = new(any)
	}
	return out
}

// scan reads the current row into a new element value.
func (m *rowMapper) scan(rows *sql.Rows) (reflect.Value, error) {
	hs := m.holders()
	if err := rows.Scan(hs...); err != nil {
		return reflect.Value{}, err
	}
	switch m.kind {
	case destMap:
		row := reflect.MakeMapWithSize(m.elem, len(m.cols))
		for i, c := range m.cols {
			v := *(hs[i].(*any))
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if v == nil {
				row.SetMapIndex(reflect.ValueOf(c), reflect.Zero(m.elem.Elem()))
				continue
			}
			row.SetMapIndex(reflect.ValueOf(c), reflect.ValueOf(v))
		}
		return row, nil
	case destScalar:
		out := reflect.New(m.elem).Elem()
		if err := assignValue(out, *(hs[0].(*any))); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "column %s", m.cols[0])
		}
		return out, nil
	}

	pv := reflect.New(m.elem)
	if m.ptr {
		pv.Elem().Set(reflect.New(m.elem.Elem()))
		pv = pv.Elem()
	}
	ev := pv.Elem()
	for i, f := range m.fields {
		if f == nil {
			continue
		}
		var err error
		if ts, ok := hs[i].(*TimeScanner); ok {
			if ts.Valid {
				err = f.Set(ev, ts.Value)
			} else {
				err = f.Set(ev, nil)
			}
		} else {
			err = assignValue(f.Value(ev), *(hs[i].(*any)))
		}
		if err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "column %s", m.cols[i])
		}
	}
	if err := runHook(afterFind, pv.Interface(), 0); err != nil {
		return reflect.Value{}, err
	}
	if m.ptr {
		return pv, nil
	}
	return ev, nil
}

// scanAll replaces the contents of dest, a pointer to a slice, with the
// mapped rows and returns their count.
func scanAll(rows *sql.Rows, dest any) (int, error) {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() || dv.Elem().Kind() != reflect.Slice {
		return 0, errors.WithMessagef(ErrInvalidQuery, "dest must be a pointer to a slice, got %T", dest)
	}
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	slice := dv.Elem()
	m, err := newRowMapper(slice.Type().Elem(), cols)
	if err != nil {
		return 0, err
	}
	out := reflect.MakeSlice(slice.Type(), 0, 0)
	for rows.Next() {
		item, err := m.scan(rows)
		if err != nil {
			return 0, err
		}
		out = reflect.Append(out, item)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	slice.Set(out)
	return out.Len(), nil
}

// assignValue stores a raw driver value into dst, converting text
// numbers (MySQL without parseTime hands back []byte) and integer booleans.
func assignValue(dst reflect.Value, raw any) error {
	if raw == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		nv := reflect.New(dst.Type().Elem())
		if err := assignValue(nv.Elem(), raw); err != nil {
			return err
		}
		dst.Set(nv)
		return nil
	}
	if dst.CanAddr() {
		if sc, ok := dst.Addr().Interface().(sql.Scanner); ok {
			return sc.Scan(raw)
		}
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(dst.Type()) {
		dst.Set(rv)
		return nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if s, ok := raw.(string); ok {
		return assignText(dst, s)
	}
	switch {
	case dst.Kind() == reflect.Bool && rv.CanInt():
		dst.SetBool(rv.Int() != 0)
	case dst.Kind() == reflect.String && (rv.CanInt() || rv.CanUint() || rv.CanFloat()):
		dst.SetString(toText(rv))
	case rv.Type().ConvertibleTo(dst.Type()):
		dst.Set(rv.Convert(dst.Type()))
	default:
		return errors.Errorf("cannot assign %T to %s", raw, dst.Type())
	}
	return nil
}

func toText(rv reflect.Value) string {
	switch {
	case rv.CanInt():
		return strconv.FormatInt(rv.Int(), 10)
	case rv.CanUint():
		return strconv.FormatUint(rv.Uint(), 10)
	}
	return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
}

func assignText(dst reflect.Value, s string) error {
	var err error
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if n, err = strconv.ParseInt(s, 10, 64); err == nil {
			dst.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if n, err = strconv.ParseUint(s, 10, 64); err == nil {
			dst.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(s, 64); err == nil {
			dst.SetFloat(f)
		}
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(s); err == nil {
			dst.SetBool(b)
		}
	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.Uint8 {
			return errors.Errorf("cannot assign text to %s", dst.Type())
		}
		dst.SetBytes([]byte(s))
	default:
		if dst.Type() == reflect.TypeOf(time.Time{}) {
			var ts TimeScanner
			if err = ts.Scan(s); err == nil {
				dst.Set(reflect.ValueOf(ts.Value))
			}
			break
		}
		return errors.Errorf("cannot assign text to %s", dst.Type())
	}
	return errors.WithMessagef(err, "parse %q", s)
}
