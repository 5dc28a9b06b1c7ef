package mapper

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tinydb-go/tinydb/bson"
)

// StructMapper implements EntityMapper[T] for a plain struct type T via
// reflection, using `bson:"name"` struct tags (falling back to the
// field name with its first letter lower-cased) — the
// convenience path most callers reach for before writing a hand-rolled
// mapper for a hot type.
type StructMapper[T any] struct{}

// NewStructMapper returns a StructMapper for T. T must be a struct (not
// a pointer to one); NewStructMapper panics otherwise.
func NewStructMapper[T any]() StructMapper[T] {
	var zero T
	if reflect.TypeOf(zero).Kind() != reflect.Struct {
		panic(fmt.Sprintf("mapper: StructMapper requires a struct type, got %T", zero))
	}
	return StructMapper[T]{}
}

func (StructMapper[T]) ToDocument(v T) (*bson.Document, error) {
	doc := bson.NewDocument()
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		val, err := toValue(rv.Field(i))
		if err != nil {
			return nil, fmt.Errorf("mapper: field %s: %w", f.Name, err)
		}
		doc.Set(name, val)
	}
	return doc, nil
}

func (StructMapper[T]) FromDocument(d *bson.Document) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		raw, ok := d.Get(name)
		if !ok {
			continue
		}
		if err := setValue(rv.Field(i), raw); err != nil {
			return out, fmt.Errorf("mapper: field %s: %w", f.Name, err)
		}
	}
	return out, nil
}

// IDOf reports v's _id field value, by the same tag/name mapping
// ToDocument uses to decide which field serializes as "_id". ok is
// false if v has no field mapped to "_id" or that field still holds
// its zero value — the same "needs a fresh id" signal a zero-valued
// primary key gives in most struct-tag-driven mappers.
func (StructMapper[T]) IDOf(v T) (bson.Value, bool) {
	rv := reflect.ValueOf(v)
	fv, ok := idField(rv)
	if !ok || fv.IsZero() {
		return nil, false
	}
	id, err := toValue(fv)
	if err != nil || id == nil {
		return nil, false
	}
	return id, true
}

// SetID writes id onto v's field mapped to "_id". It is a no-op if T
// has no such field.
func (StructMapper[T]) SetID(v *T, id bson.Value) {
	rv := reflect.ValueOf(v).Elem()
	fv, ok := idField(rv)
	if !ok {
		return
	}
	_ = setValue(fv, id)
}

// idField locates the struct field of rv whose mapped name is "_id".
func idField(rv reflect.Value) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		if name == "_id" {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func fieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("bson")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			return parts[0], false
		}
	}
	return strings.ToLower(f.Name[:1]) + f.Name[1:], false
}

func toValue(fv reflect.Value) (bson.Value, error) {
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, nil
		}
		return toValue(fv.Elem())
	}
	switch v := fv.Interface().(type) {
	case bson.ObjectID, bson.Decimal128, bson.Timestamp, bson.Binary, bson.Regex, time.Time:
		return v, nil
	}
	switch fv.Kind() {
	case reflect.String:
		return fv.String(), nil
	case reflect.Bool:
		return fv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fv.Int(), nil
	case reflect.Float32, reflect.Float64:
		return fv.Float(), nil
	case reflect.Struct:
		sub := bson.NewDocument()
		rt := fv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name, skip := fieldName(f)
			if skip {
				continue
			}
			val, err := toValue(fv.Field(i))
			if err != nil {
				return nil, err
			}
			sub.Set(name, val)
		}
		return sub, nil
	case reflect.Slice, reflect.Array:
		values := make([]bson.Value, fv.Len())
		for i := range values {
			v, err := toValue(fv.Index(i))
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return bson.NewArray(values...), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", fv.Kind())
	}
}

func setValue(fv reflect.Value, raw bson.Value) error {
	if raw == nil {
		return nil
	}
	if fv.Kind() == reflect.Ptr {
		elem := reflect.New(fv.Type().Elem())
		if err := setValue(elem.Elem(), raw); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	}
	switch fv.Interface().(type) {
	case bson.ObjectID, bson.Decimal128, bson.Timestamp, bson.Binary, bson.Regex, time.Time:
		rv := reflect.ValueOf(raw)
		if rv.Type() != fv.Type() {
			return fmt.Errorf("expected %s, got %T", fv.Type(), raw)
		}
		fv.Set(rv)
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", raw)
		}
		fv.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asInt64(raw)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := asFloat64(raw)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Struct:
		sub, ok := raw.(*bson.Document)
		if !ok {
			return fmt.Errorf("expected document, got %T", raw)
		}
		rt := fv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name, skip := fieldName(f)
			if skip {
				continue
			}
			v, ok := sub.Get(name)
			if !ok {
				continue
			}
			if err := setValue(fv.Field(i), v); err != nil {
				return err
			}
		}
	case reflect.Slice:
		arr, ok := raw.(*bson.Array)
		if !ok {
			return fmt.Errorf("expected array, got %T", raw)
		}
		out := reflect.MakeSlice(fv.Type(), arr.Len(), arr.Len())
		for i, v := range arr.Values() {
			if err := setValue(out.Index(i), v); err != nil {
				return err
			}
		}
		fv.Set(out)
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
	return nil
}

func asInt64(raw bson.Value) (int64, error) {
	switch n := raw.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected numeric, got %T", raw)
	}
}

func asFloat64(raw bson.Value) (float64, error) {
	switch n := raw.(type) {
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected numeric, got %T", raw)
	}
}
