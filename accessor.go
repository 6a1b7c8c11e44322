// accessor.go: Nested property path access for propbind
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"reflect"
	"strings"

	"github.com/agilira/go-errors"
)

// resolvePath maps a dotted property path onto the descriptors that reach it from t.
func resolvePath(t reflect.Type, path string) ([]PropertyDescriptor, error) {
	if path == "" {
		return nil, errors.New(ErrCodeInvalidPropertyPath, "empty property path")
	}

	segments := strings.Split(path, ".")
	chain := make([]PropertyDescriptor, 0, len(segments))
	current := t
	for _, segment := range segments {
		st := indirectType(current)
		if !isCandidateType(st) {
			return nil, errors.New(ErrCodeInvalidPropertyPath, "property is not a nested bean").
				WithContext("path", path).
				WithContext("segment", segment)
		}
		schema, err := schemaOf(st)
		if err != nil {
			return nil, err
		}
		p, ok := schema.property(segment)
		if !ok {
			return nil, errors.New(ErrCodeInvalidPropertyPath, "unknown property").
				WithContext("path", path).
				WithContext("segment", segment).
				WithContext("type", st.String())
		}
		chain = append(chain, p)
		current = p.Type
	}
	return chain, nil
}

// readPath returns the value at the end of chain. The second result is false when
// an intermediate pointer is nil; the value is then reported as nil.
func readPath(root reflect.Value, chain []PropertyDescriptor) (interface{}, bool) {
	v := root
	for _, p := range chain {
		v = indirectForRead(v)
		if !v.IsValid() {
			return nil, false
		}
		f, ok := fieldForRead(v, p.index)
		if !ok {
			return nil, false
		}
		v = f
	}
	return v.Interface(), true
}

// writePath assigns value at the end of chain, allocating nil intermediate pointers.
func writePath(root reflect.Value, chain []PropertyDescriptor, value reflect.Value) error {
	v := root
	for i, p := range chain {
		var err error
		if v, err = indirectForWrite(v); err != nil {
			return err
		}
		f, err := fieldForWrite(v, p.index)
		if err != nil {
			return err
		}
		if i == len(chain)-1 {
			if !f.CanSet() {
				return errors.New(ErrCodeInvalidPropertyPath, "property is not settable").
					WithContext("property", p.Name)
			}
			f.Set(value)
			return nil
		}
		v = f
	}
	return nil
}

func indirectForRead(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func indirectForWrite(v reflect.Value) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			if !v.CanSet() {
				return reflect.Value{}, errors.New(ErrCodeInvalidPropertyPath, "cannot allocate nested bean").
					WithContext("type", v.Type().String())
			}
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v, nil
}

func fieldForRead(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 {
			v = indirectForRead(v)
			if !v.IsValid() {
				return reflect.Value{}, false
			}
		}
		v = v.Field(x)
	}
	return v, true
}

func fieldForWrite(v reflect.Value, index []int) (reflect.Value, error) {
	for i, x := range index {
		if i > 0 {
			var err error
			if v, err = indirectForWrite(v); err != nil {
				return reflect.Value{}, err
			}
		}
		v = v.Field(x)
	}
	return v, nil
}
