package model

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// IDKind describes how a primary key value is produced.
type IDKind int

const (
	IDNone IDKind = iota
	AutoIncrement
	Snowflake
	GUID
	Sequence
)

func (k IDKind) String() string {
	switch k {
	case AutoIncrement:
		return "AutoIncrement"
	case Snowflake:
		return "Snowflake"
	case GUID:
		return "GUID"
	case Sequence:
		return "Sequence"
	}
	return "None"
}

// Field is the metadata of one mapped struct field.
type Field struct {
	Name     string // Go field name, used as the logical name
	Column   string
	Type     reflect.Type
	Index    []int
	Tag      string
	IsPK     bool
	IDKind   IDKind
	Sequence string
	Size     int
	NotNull  bool
	Unique   bool
	Default  string
	SQLType  string
}

// Schema is the immutable metadata of an entity type.
type Schema struct {
	Type        reflect.Type
	Name        string
	Table       string
	Fields      []*Field
	PrimaryKeys []*Field

	CreatedBy *Field
	CreatedAt *Field
	UpdatedBy *Field
	UpdatedAt *Field
	DeletedAt *Field
	Version   *Field

	byName   map[string]*Field
	byColumn map[string]*Field
}

// Tabler lets an entity override its table name.
type Tabler interface {
	TableName() string
}

type schemaEntry struct {
	once   sync.Once
	schema *Schema
	err    error
}

var registry sync.Map // reflect.Type -> *schemaEntry

// Parse returns the schema of an entity value (struct or pointer to struct).
func Parse(value any) (*Schema, error) {
	if value == nil {
		return nil, fmt.Errorf("value is nil")
	}
	return ParseType(reflect.TypeOf(value))
}

// ParseType returns the schema for typ, building it at most once per type.
func ParseType(typ reflect.Type) (*Schema, error) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("value must be a struct or pointer to struct, got %s", typ.Kind())
	}

	v, _ := registry.LoadOrStore(typ, &schemaEntry{})
	e := v.(*schemaEntry)
	e.once.Do(func() {
		e.schema, e.err = build(typ)
	})
	return e.schema, e.err
}

// Register builds and caches the schemas of the given entities up front.
func Register(values ...any) error {
	for _, v := range values {
		if _, err := Parse(v); err != nil {
			return err
		}
	}
	return nil
}

func build(typ reflect.Type) (*Schema, error) {
	s := &Schema{
		Type:     typ,
		Name:     typ.Name(),
		Table:    typ.Name(),
		byName:   make(map[string]*Field),
		byColumn: make(map[string]*Field),
	}
	if t, ok := reflect.New(typ).Interface().(Tabler); ok {
		if name := t.TableName(); name != "" {
			s.Table = name
		}
	}
	if err := s.collect(typ, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("%s: no mapped fields", s.Name)
	}
	return s, nil
}

func (s *Schema) collect(typ reflect.Type, parent []int) error {
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		index := append(append([]int(nil), parent...), i)

		tagStr := sf.Tag.Get("oql")
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && tagStr == "" {
			if err := s.collect(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		tag, err := ParseTag(tagStr)
		if err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
		if tag.Skip {
			continue
		}

		column := tag.Column
		if column == "" {
			column = ColumnName(sf.Name)
		}
		f := &Field{
			Name:     sf.Name,
			Column:   column,
			Type:     sf.Type,
			Index:    index,
			Tag:      tagStr,
			IsPK:     tag.PrimaryKey,
			IDKind:   tag.IDKind,
			Sequence: tag.Sequence,
			Size:     tag.Size,
			NotNull:  tag.NotNull,
			Unique:   tag.Unique,
			Default:  tag.Default,
			SQLType:  tag.Type,
		}
		if f.IDKind == Sequence && f.Sequence == "" {
			f.Sequence = "seq_" + ColumnName(typ.Name())
		}
		if _, dup := s.byColumn[column]; dup {
			return fmt.Errorf("duplicate column %q", column)
		}

		s.Fields = append(s.Fields, f)
		s.byName[f.Name] = f
		s.byColumn[f.Column] = f
		if f.IsPK {
			s.PrimaryKeys = append(s.PrimaryKeys, f)
		}

		special := []struct {
			on   bool
			slot **Field
			name string
		}{
			{tag.CreatedBy, &s.CreatedBy, "created_by"},
			{tag.CreatedAt, &s.CreatedAt, "created_at"},
			{tag.UpdatedBy, &s.UpdatedBy, "updated_by"},
			{tag.UpdatedAt, &s.UpdatedAt, "updated_at"},
			{tag.DeletedAt, &s.DeletedAt, "deleted_at"},
			{tag.Version, &s.Version, "version"},
		}
		for _, sp := range special {
			if !sp.on {
				continue
			}
			if *sp.slot != nil {
				return fmt.Errorf("more than one %s field", sp.name)
			}
			*sp.slot = f
		}
	}
	return nil
}

// FieldByName looks a field up by its Go name.
func (s *Schema) FieldByName(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// FieldByColumn looks a field up by its column name.
func (s *Schema) FieldByColumn(column string) (*Field, bool) {
	f, ok := s.byColumn[column]
	return f, ok
}

// Lookup accepts either a Go field name or a column name.
func (s *Schema) Lookup(name string) (*Field, bool) {
	if f, ok := s.byName[name]; ok {
		return f, true
	}
	return s.FieldByColumn(name)
}

// AutoIDs returns the fields whose values are generated.
func (s *Schema) AutoIDs() map[*Field]IDKind {
	ids := make(map[*Field]IDKind)
	for _, f := range s.Fields {
		if f.IDKind != IDNone {
			ids[f] = f.IDKind
		}
	}
	return ids
}

// IsSpecial reports whether f is an audit, soft-delete or version column.
func (s *Schema) IsSpecial(f *Field) bool {
	switch f {
	case s.CreatedBy, s.CreatedAt, s.UpdatedBy, s.UpdatedAt, s.DeletedAt, s.Version:
		return true
	}
	return false
}

// FieldOf resolves a pointer to a field of the struct held by entity
// (an addressable struct value). Both the address and the pointee type
// must match, so a struct and its first field are never confused.
func (s *Schema) FieldOf(entity reflect.Value, ptr any) (*Field, bool) {
	pv := reflect.ValueOf(ptr)
	if pv.Kind() != reflect.Ptr || pv.IsNil() || !entity.CanAddr() {
		return nil, false
	}
	addr := pv.Pointer()
	elem := pv.Type().Elem()
	for _, f := range s.Fields {
		fv := entity.FieldByIndex(f.Index)
		if fv.Addr().Pointer() == addr && fv.Type() == elem {
			return f, true
		}
	}
	return nil, false
}

// Value returns the field's value inside entity.
func (f *Field) Value(entity reflect.Value) reflect.Value {
	return entity.FieldByIndex(f.Index)
}

// IsZero reports whether the field holds its zero value in entity.
func (f *Field) IsZero(entity reflect.Value) bool {
	return f.Value(entity).IsZero()
}

// IsTime reports whether the field stores a time.Time or *time.Time.
func (f *Field) IsTime() bool {
	t := f.Type
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t == reflect.TypeOf(time.Time{})
}

// Set assigns v to the field, converting between compatible kinds and
// taking the address when the field is a pointer.
func (f *Field) Set(entity reflect.Value, v any) error {
	fv := f.Value(entity)
	if v == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(v)
	target := fv.Type()
	if target.Kind() == reflect.Ptr {
		if rv.Type().AssignableTo(target) {
			fv.Set(rv)
			return nil
		}
		nv := reflect.New(target.Elem())
		if !assign(nv.Elem(), rv) {
			return fmt.Errorf("field %s: cannot assign %s to %s", f.Name, rv.Type(), target)
		}
		fv.Set(nv)
		return nil
	}
	if !assign(fv, rv) {
		return fmt.Errorf("field %s: cannot assign %s to %s", f.Name, rv.Type(), target)
	}
	return nil
}

func assign(dst, src reflect.Value) bool {
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Kind() == reflect.String && dst.Kind() != reflect.String:
		return false
	case src.Type().ConvertibleTo(dst.Type()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return false
	}
	return true
}
