// Package value compares property values for change detection, sentinel
// checks and identity resolution.
//
// Values are normalized before comparison: integers of every width compare
// by value, integral floats equal the matching integer, pointers are
// dereferenced, driver.Valuer implementations (sql.Null*, uuid.UUID)
// compare by the value they hand to the database, and typed nil pointers
// are nil.
package value

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/cases"

	"github.com/syssam/uow/schema"
)

type options struct {
	fold bool
}

// Option configures a comparison.
type Option func(*options)

// IgnoreCase compares strings by their case folding.
func IgnoreCase() Option {
	return func(o *options) { o.fold = true }
}

// For returns the options matching a property's configuration.
func For(p *schema.Property) []Option {
	if p != nil && p.CaseInsensitive {
		return []Option{IgnoreCase()}
	}
	return nil
}

func build(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// bytesValue distinguishes binary values from strings after normalization.
type bytesValue string

// Normalize returns the comparable form of v.
func Normalize(v any) any {
	for {
		switch x := v.(type) {
		case nil:
			return nil
		case int:
			return int64(x)
		case int8:
			return int64(x)
		case int16:
			return int64(x)
		case int32:
			return int64(x)
		case int64:
			return x
		case uint:
			return fromUint(uint64(x))
		case uint8:
			return int64(x)
		case uint16:
			return int64(x)
		case uint32:
			return int64(x)
		case uint64:
			return fromUint(x)
		case float32:
			return fromFloat(float64(x))
		case float64:
			return fromFloat(x)
		case string, bool:
			return x
		case []byte:
			if x == nil {
				return nil
			}
			return bytesValue(x)
		case time.Time:
			return x.UTC()
		case driver.Valuer:
			rv := reflect.ValueOf(x)
			if rv.Kind() == reflect.Pointer && rv.IsNil() {
				return nil
			}
			dv, err := x.Value()
			if err != nil {
				return x
			}
			v = dv
			continue
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Pointer, reflect.Interface:
			if rv.IsNil() {
				return nil
			}
			v = rv.Elem().Interface()
			continue
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return fromUint(rv.Uint())
		case reflect.Float32, reflect.Float64:
			return fromFloat(rv.Float())
		case reflect.String:
			return rv.String()
		case reflect.Bool:
			return rv.Bool()
		case reflect.Slice, reflect.Map:
			if rv.IsNil() {
				return nil
			}
		}
		return v
	}
}

func fromUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

func fromFloat(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

// Equal reports whether a and b hold the same value for change detection.
func Equal(a, b any, opts ...Option) bool {
	o := build(opts)
	na, nb := Normalize(a), Normalize(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	switch x := na.(type) {
	case string:
		y, ok := nb.(string)
		if !ok {
			return false
		}
		if o.fold {
			return fold(x) == fold(y)
		}
		return x == y
	case bytesValue:
		y, ok := nb.(bytesValue)
		return ok && bytes.Equal([]byte(x), []byte(y))
	case time.Time:
		y, ok := nb.(time.Time)
		return ok && x.Equal(y)
	case int64:
		switch y := nb.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case uint64:
		y, ok := nb.(uint64)
		return ok && x == y
	case float64:
		switch y := nb.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	case bool:
		y, ok := nb.(bool)
		return ok && x == y
	}
	return deepEqual(na, nb)
}

func deepEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return cmp.Equal(a, b)
}

// IsSentinel reports whether v holds the configured "not supplied" marker.
// A nil sentinel matches only nil values.
func IsSentinel(v, sentinel any, opts ...Option) bool {
	return Equal(v, sentinel, opts...)
}

// Canonical returns a string that is equal for two values exactly when
// Equal reports them equal, suitable as a map key.
func Canonical(v any, opts ...Option) string {
	o := build(opts)
	switch x := Normalize(v).(type) {
	case nil:
		return "n:"
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case uint64:
		return "u:" + strconv.FormatUint(x, 10)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		if o.fold {
			x = fold(x)
		}
		return "s:" + x
	case bytesValue:
		return "x:" + hex.EncodeToString([]byte(x))
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%T:%v", x, x)
	}
}

func fold(s string) string {
	return cases.Fold().String(s)
}
