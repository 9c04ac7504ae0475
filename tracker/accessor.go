package tracker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Accessor reads and writes the property slots of application objects.
// The tracker never copies the objects it tracks; every read and write
// goes through an Accessor.
type Accessor interface {
	// TypeName returns the entity type name of obj.
	TypeName(obj any) (string, error)
	// Get returns the value of a property.
	Get(obj any, prop string) (any, error)
	// Set assigns the value of a property.
	Set(obj any, prop string, v any) error
	// Reference returns the object a reference navigation points to, or nil.
	Reference(obj any, nav string) (any, error)
	// Collection returns the objects of a collection navigation.
	Collection(obj any, nav string) ([]any, error)
}

// Record is a map-backed entity object for callers that do not model
// entities as Go structs.
type Record struct {
	Type        string
	Values      map[string]any
	Refs        map[string]*Record
	Collections map[string][]*Record
}

// NewRecord returns a record of the given type holding a copy of values.
func NewRecord(typ string, values map[string]any) *Record {
	r := &Record{Type: typ, Values: make(map[string]any, len(values))}
	for k, v := range values {
		r.Values[k] = v
	}
	return r
}

// SetRef points the named reference navigation at p.
func (r *Record) SetRef(nav string, p *Record) *Record {
	if r.Refs == nil {
		r.Refs = make(map[string]*Record)
	}
	r.Refs[nav] = p
	return r
}

// AddTo appends c to the named collection navigation.
func (r *Record) AddTo(nav string, c ...*Record) *Record {
	if r.Collections == nil {
		r.Collections = make(map[string][]*Record)
	}
	r.Collections[nav] = append(r.Collections[nav], c...)
	return r
}

// errNotEntity is returned for objects the default accessor cannot handle.
var errNotEntity = errors.New("tracker: entity objects must be *Record or non-nil pointers to structs")

// DefaultAccessor handles *Record values and pointers to structs. Struct
// fields map to properties by name, or by a `uow:"Name"` tag.
var DefaultAccessor Accessor = &structAccessor{}

type structAccessor struct {
	fields sync.Map // reflect.Type -> map[string][]int
}

func (a *structAccessor) TypeName(obj any) (string, error) {
	if r, ok := obj.(*Record); ok {
		if r == nil || r.Type == "" {
			return "", errNotEntity
		}
		return r.Type, nil
	}
	rv, err := structValue(obj)
	if err != nil {
		return "", err
	}
	return rv.Type().Name(), nil
}

func (a *structAccessor) Get(obj any, prop string) (any, error) {
	if r, ok := obj.(*Record); ok {
		return r.Values[prop], nil
	}
	f, err := a.field(obj, prop)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

func (a *structAccessor) Set(obj any, prop string, v any) error {
	if r, ok := obj.(*Record); ok {
		if r.Values == nil {
			r.Values = make(map[string]any)
		}
		r.Values[prop] = v
		return nil
	}
	f, err := a.field(obj, prop)
	if err != nil {
		return err
	}
	return assign(f, v)
}

func (a *structAccessor) Reference(obj any, nav string) (any, error) {
	if r, ok := obj.(*Record); ok {
		if p := r.Refs[nav]; p != nil {
			return p, nil
		}
		return nil, nil
	}
	f, err := a.field(obj, nav)
	if err != nil {
		return nil, err
	}
	if (f.Kind() == reflect.Pointer || f.Kind() == reflect.Interface) && f.IsNil() {
		return nil, nil
	}
	return f.Interface(), nil
}

func (a *structAccessor) Collection(obj any, nav string) ([]any, error) {
	if r, ok := obj.(*Record); ok {
		items := r.Collections[nav]
		out := make([]any, 0, len(items))
		for _, c := range items {
			if c != nil {
				out = append(out, c)
			}
		}
		return out, nil
	}
	f, err := a.field(obj, nav)
	if err != nil {
		return nil, err
	}
	if f.Kind() != reflect.Slice {
		return nil, fmt.Errorf("tracker: navigation %q is not a slice", nav)
	}
	out := make([]any, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		item := f.Index(i)
		if (item.Kind() == reflect.Pointer || item.Kind() == reflect.Interface) && item.IsNil() {
			continue
		}
		out = append(out, item.Interface())
	}
	return out, nil
}

func structValue(obj any) (reflect.Value, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errNotEntity
	}
	return rv.Elem(), nil
}

func (a *structAccessor) field(obj any, name string) (reflect.Value, error) {
	rv, err := structValue(obj)
	if err != nil {
		return reflect.Value{}, err
	}
	idx, ok := a.index(rv.Type())[name]
	if !ok {
		return reflect.Value{}, fmt.Errorf("tracker: %s has no field for %q", rv.Type().Name(), name)
	}
	return rv.FieldByIndex(idx), nil
}

func (a *structAccessor) index(t reflect.Type) map[string][]int {
	if m, ok := a.fields.Load(t); ok {
		return m.(map[string][]int)
	}
	m := make(map[string][]int)
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("uow"); ok {
			if tag == "-" {
				continue
			}
			if n, _, _ := strings.Cut(tag, ","); n != "" {
				name = n
			}
		}
		m[name] = f.Index
	}
	a.fields.Store(t, m)
	return m
}

// assign stores v in f, converting between numeric kinds and allocating
// pointers as needed.
func assign(f reflect.Value, v any) error {
	if v == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(f.Type()) {
		f.Set(rv)
		return nil
	}
	if f.Kind() == reflect.Pointer {
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				f.Set(reflect.Zero(f.Type()))
				return nil
			}
			rv = rv.Elem()
		}
		elem := reflect.New(f.Type().Elem())
		if err := assign(elem.Elem(), rv.Interface()); err != nil {
			return err
		}
		f.Set(elem)
		return nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			f.Set(reflect.Zero(f.Type()))
			return nil
		}
		return assign(f, rv.Elem().Interface())
	}
	if numeric(rv.Kind()) && numeric(f.Kind()) || rv.Kind() == f.Kind() && rv.Type().ConvertibleTo(f.Type()) {
		f.Set(rv.Convert(f.Type()))
		return nil
	}
	return fmt.Errorf("tracker: cannot assign %T to %s", v, f.Type())
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
