package model

import (
	"fmt"
	"reflect"
)

// Snapshot records the field values of an entity at a point in time,
// together with a changed flag per field. len(changed) always equals
// len(fields).
type Snapshot struct {
	schema  *Schema
	fields  []*Field
	values  []any
	changed []bool
}

// Take captures every mapped field of entity.
func Take(entity any) (*Snapshot, error) {
	s, err := Parse(entity)
	if err != nil {
		return nil, err
	}
	return TakeFields(entity, s.Fields)
}

// TakeFields captures a projection of entity restricted to fields.
func TakeFields(entity any, fields []*Field) (*Snapshot, error) {
	ev, s, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{schema: s}
	snap.reset(ev, fields)
	return snap, nil
}

func (sn *Snapshot) reset(ev reflect.Value, fields []*Field) {
	sn.fields = append([]*Field(nil), fields...)
	sn.values = make([]any, len(fields))
	sn.changed = make([]bool, len(fields))
	for i, f := range fields {
		sn.values[i] = f.Value(ev).Interface()
	}
}

// Project rebuilds the snapshot for a subset of fields; change flags
// start cleared.
func (sn *Snapshot) Project(entity any, fields []*Field) error {
	ev, _, err := structValue(entity)
	if err != nil {
		return err
	}
	sn.reset(ev, fields)
	return nil
}

// Refresh re-reads the tracked fields from entity, clearing the flags.
func (sn *Snapshot) Refresh(entity any) error {
	return sn.Project(entity, sn.fields)
}

// Changed recomputes the changed flags against the current entity values
// and returns the changed fields in declaration order.
func (sn *Snapshot) Changed(entity any) ([]*Field, error) {
	ev, s, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	if s != sn.schema {
		return nil, fmt.Errorf("snapshot of %s compared with %s", sn.schema.Name, s.Name)
	}
	var out []*Field
	for i, f := range sn.fields {
		sn.changed[i] = !reflect.DeepEqual(sn.values[i], f.Value(ev).Interface())
		if sn.changed[i] {
			out = append(out, f)
		}
	}
	return out, nil
}

// ChangedAt reports the flag for the field at position i.
func (sn *Snapshot) ChangedAt(i int) bool { return sn.changed[i] }

// Len returns the number of tracked fields.
func (sn *Snapshot) Len() int { return len(sn.fields) }

func structValue(entity any) (reflect.Value, *Schema, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("entity must be a non-nil pointer to struct, got %T", entity)
	}
	s, err := ParseType(rv.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return rv.Elem(), s, nil
}
