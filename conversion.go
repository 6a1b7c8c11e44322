// conversion.go: Type conversion service for propbind
//
// Converts raw configuration values (strings from env vars and flags, numbers and
// nested maps from parsed files) into the declared type of a bean property.
// Conversions are explicit: a converter is a function registered for one
// (source type, target type) pair that returns a result or an error, never panics.
// Built-in conversions cover the scalar kinds, durations, timestamps, text
// unmarshalers, pointers, slices, and map/struct targets decoded with mapstructure.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/go-viper/mapstructure/v2"
)

// ConversionService converts a value into a target type.
type ConversionService interface {
	Convert(value interface{}, target reflect.Type) (interface{}, error)
}

// ConverterFunc converts a value of a registered source type.
type ConverterFunc func(value interface{}) (interface{}, error)

type convertiblePair struct {
	source reflect.Type
	target reflect.Type
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	timeType            = reflect.TypeOf(time.Time{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// DefaultConversionService is the built-in ConversionService. It is safe for
// concurrent use; converters may be added at any time.
type DefaultConversionService struct {
	mu         sync.RWMutex
	converters map[convertiblePair]ConverterFunc
}

// NewConversionService creates a conversion service with the built-in conversions only.
func NewConversionService() *DefaultConversionService {
	return &DefaultConversionService{
		converters: make(map[convertiblePair]ConverterFunc),
	}
}

// AddConverter registers fn for the (source, target) pair, replacing any previous one.
func (s *DefaultConversionService) AddConverter(source, target reflect.Type, fn ConverterFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converters[convertiblePair{source: source, target: target}] = fn
}

// AddConverter registers a typed converter from S to T on the service.
//
//	propbind.AddConverter(svc, func(s string) (net.IP, error) { ... })
func AddConverter[S, T any](s *DefaultConversionService, fn func(S) (T, error)) {
	source := reflect.TypeOf((*S)(nil)).Elem()
	target := reflect.TypeOf((*T)(nil)).Elem()
	s.AddConverter(source, target, func(value interface{}) (interface{}, error) {
		return fn(value.(S))
	})
}

func (s *DefaultConversionService) lookup(source, target reflect.Type) (ConverterFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.converters[convertiblePair{source: source, target: target}]
	return fn, ok
}

// Convert converts value into target. A nil value converts to the zero value of target.
func (s *DefaultConversionService) Convert(value interface{}, target reflect.Type) (interface{}, error) {
	if target == nil {
		return nil, errors.New(ErrCodeConversionFailed, "target type cannot be nil")
	}
	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}

	source := reflect.TypeOf(value)
	if source == target {
		return value, nil
	}

	if fn, ok := s.lookup(source, target); ok {
		out, err := fn(value)
		if err != nil {
			return nil, conversionError(err, value, target)
		}
		return out, nil
	}

	out, err := s.convertBuiltin(value, source, target)
	if err != nil {
		return nil, conversionError(err, value, target)
	}
	return out.Interface(), nil
}

func conversionError(err error, value interface{}, target reflect.Type) error {
	return errors.Wrap(err, ErrCodeConversionFailed, "cannot convert value").
		WithContext("source_type", fmt.Sprintf("%T", value)).
		WithContext("target_type", target.String())
}

func (s *DefaultConversionService) convertBuiltin(value interface{}, source, target reflect.Type) (reflect.Value, error) {
	// Special targets first: they are named numeric/struct types with their own syntax.
	switch target {
	case durationType:
		d, err := toDuration(value)
		return reflect.ValueOf(d), err
	case timeType:
		t, err := toTime(value)
		return reflect.ValueOf(t), err
	}

	if target.Kind() == reflect.Pointer {
		elem, err := s.Convert(value, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := assignableValue(elem, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(v)
		return ptr, nil
	}

	if str, ok := value.(string); ok && reflect.PointerTo(target).Implements(textUnmarshalerType) {
		ptr := reflect.New(target)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(str)); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}

	if source.AssignableTo(target) {
		return reflect.ValueOf(value), nil
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		out.SetString(toString(value))
	case reflect.Bool:
		b, err := toBool(value)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(value)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("value %d overflows %s", n, target)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64(value)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowUint(n) {
			return reflect.Value{}, fmt.Errorf("value %d overflows %s", n, target)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(value)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("value %g overflows %s", f, target)
		}
		out.SetFloat(f)
	case reflect.Slice:
		return s.toSlice(value, target)
	case reflect.Map, reflect.Struct:
		if err := decodeComposite(value, out.Addr().Interface()); err != nil {
			return reflect.Value{}, err
		}
	default:
		if source.ConvertibleTo(target) {
			return reflect.ValueOf(value).Convert(target), nil
		}
		return reflect.Value{}, fmt.Errorf("no conversion from %s to %s", source, target)
	}
	return out, nil
}

// toSlice converts comma-separated strings and arbitrary slices/arrays element-wise.
func (s *DefaultConversionService) toSlice(value interface{}, target reflect.Type) (reflect.Value, error) {
	var items []interface{}
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return reflect.MakeSlice(target, 0, 0), nil
		}
		for _, part := range strings.Split(v, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			items = []interface{}{value}
			break
		}
		items = make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	out := reflect.MakeSlice(target, len(items), len(items))
	for i, item := range items {
		converted, err := s.Convert(item, target.Elem())
		if err != nil {
			return reflect.Value{}, errors.Wrap(err, ErrCodeConversionFailed, "cannot convert slice element").
				WithContext("index", i)
		}
		v, err := assignableValue(converted, target.Elem())
		if err != nil {
			return reflect.Value{}, errors.Wrap(err, ErrCodeConversionFailed, "cannot convert slice element").
				WithContext("index", i)
		}
		out.Index(i).Set(v)
	}
	return out, nil
}

// decodeComposite decodes maps (typically nested sections of a parsed file) into
// map and struct targets. Keys are matched against field names in dashed form.
func decodeComposite(value interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		TagName:          BindTag,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return ToDashedForm(mapKey) == ToDashedForm(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(value)
}

// Scalar conversions with minimal allocations

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	case float32:
		return integralFloat(float64(v))
	case float64:
		return integralFloat(v)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", value)
}

func toUint64(value interface{}) (uint64, error) {
	if str, ok := value.(string); ok {
		return strconv.ParseUint(strings.TrimSpace(str), 0, 64)
	}
	rv := reflect.ValueOf(value)
	if k := rv.Kind(); k >= reflect.Uint && k <= reflect.Uintptr {
		return rv.Uint(), nil
	}
	n, err := toInt64(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d for unsigned target", n)
	}
	return uint64(n), nil
}

func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %g is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	n, err := toInt64(value)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", value)
	}
	return float64(n), nil
}

func toDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	case int64:
		return time.Duration(v), nil
	case int:
		return time.Duration(v), nil
	case float64:
		n, err := integralFloat(v)
		return time.Duration(n), err
	default:
		return 0, fmt.Errorf("cannot convert %T to time.Duration", value)
	}
}

func toTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(time.RFC3339, strings.TrimSpace(v))
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", value)
	}
}

// defaultConversion is shared by contexts created without an explicit service.
var defaultConversion = NewConversionService()
