// schema.go: Bean type schemas and binding-path construction for propbind
//
// A schema is the capability table of a struct type: its bindable properties,
// their declared types and how to reach them. Schemas are computed once per type
// and cached for the life of the process, so reflection over struct fields happens
// at registration time only.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
)

// BindTag is the struct tag that renames (`bind:"name"`) or excludes (`bind:"-"`) a field.
const BindTag = "bind"

// PropertyDescriptor describes one bindable property of a struct type.
type PropertyDescriptor struct {
	Name       string       // bean property name, e.g. "maxRetries"
	ConfigName string       // dashed form used in configuration keys, e.g. "max-retries"
	Field      string       // Go field name, e.g. "MaxRetries"
	Type       reflect.Type // declared field type

	index []int // field index path, crosses promoted embedded structs
}

// typeSchema is the cached capability table of a single struct type.
type typeSchema struct {
	typ        reflect.Type
	properties []PropertyDescriptor
	byName     map[string]int
	byConfig   map[string]int
}

var schemaCache sync.Map // reflect.Type -> *typeSchema

// schemaOf returns the cached schema of a struct type, computing it on first use.
// Failed schemas are not cached.
func schemaOf(t reflect.Type) (*typeSchema, error) {
	return lookupSchema(t, make(map[reflect.Type]bool))
}

// lookupSchema resolves the schema of t while the types in building are still
// being computed. Reaching one of them again means the embedding graph loops.
func lookupSchema(t reflect.Type, building map[reflect.Type]bool) (*typeSchema, error) {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*typeSchema), nil
	}
	if building[t] {
		return nil, errors.New(ErrCodeCyclicBeanGraph, "embedded struct graph contains a cycle").
			WithContext("type", t.String())
	}
	building[t] = true
	defer delete(building, t)

	schema, err := buildSchema(t, building)
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(t, schema)
	return actual.(*typeSchema), nil
}

func buildSchema(t reflect.Type, building map[reflect.Type]bool) (*typeSchema, error) {
	schema := &typeSchema{
		typ:      t,
		byName:   make(map[string]int),
		byConfig: make(map[string]int),
	}

	// Direct fields first so that they shadow promoted ones.
	var embedded []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, tagged := field.Tag.Lookup(BindTag)
		if tag == "-" {
			continue
		}
		if field.Anonymous && !(tagged && tag != "") && isPromotable(field) {
			embedded = append(embedded, field)
			continue
		}
		if !field.IsExported() {
			continue
		}
		name := propertyNameFromField(field.Name)
		if tagged && tag != "" {
			name = tag
		}
		p := PropertyDescriptor{
			Name:       name,
			ConfigName: ToDashedForm(name),
			Field:      field.Name,
			Type:       field.Type,
			index:      []int{i},
		}
		if err := validateElement(p.ConfigName); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidPropertyName, "field does not map to a valid configuration name").
				WithContext("type", t.String()).
				WithContext("field", field.Name).
				WithContext("name", p.ConfigName)
		}
		if other, clash := schema.clash(p); clash {
			return nil, errors.New(ErrCodeInvalidPropertyName, "fields map to the same configuration name").
				WithContext("type", t.String()).
				WithContext("field", field.Name).
				WithContext("other", other.Field).
				WithContext("name", p.ConfigName)
		}
		schema.add(p)
	}

	for _, field := range embedded {
		inner, err := lookupSchema(indirectType(field.Type), building)
		if err != nil {
			return nil, err
		}
		for _, p := range inner.properties {
			if _, shadowed := schema.clash(p); shadowed {
				continue
			}
			promoted := p
			promoted.index = append([]int{field.Index[0]}, p.index...)
			schema.add(promoted)
		}
	}

	return schema, nil
}

// clash returns the property already holding p's name or configuration name.
func (s *typeSchema) clash(p PropertyDescriptor) (PropertyDescriptor, bool) {
	if i, ok := s.byName[p.Name]; ok {
		return s.properties[i], true
	}
	if i, ok := s.byConfig[p.ConfigName]; ok {
		return s.properties[i], true
	}
	return PropertyDescriptor{}, false
}

func (s *typeSchema) add(p PropertyDescriptor) {
	s.byName[p.Name] = len(s.properties)
	s.byConfig[p.ConfigName] = len(s.properties)
	s.properties = append(s.properties, p)
}

func (s *typeSchema) property(name string) (PropertyDescriptor, bool) {
	i, ok := s.byName[name]
	if !ok {
		return PropertyDescriptor{}, false
	}
	return s.properties[i], true
}

// isPromotable reports whether the properties of an embedded field are promoted to the
// embedding struct. Unexported embedded pointers are skipped: they cannot be allocated.
func isPromotable(field reflect.StructField) bool {
	t := field.Type
	if t.Kind() == reflect.Pointer {
		if !field.IsExported() {
			return false
		}
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && isCandidateType(t)
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// isCandidateType reports whether the binder descends into t. Only struct types
// declared outside the Go standard library qualify; everything else is a leaf value.
func isCandidateType(t reflect.Type) bool {
	t = indirectType(t)
	if t.Kind() != reflect.Struct {
		return false
	}
	return !isStandardLibrary(t.PkgPath())
}

func isStandardLibrary(pkgPath string) bool {
	if pkgPath == "" || pkgPath == "main" {
		return false
	}
	first := pkgPath
	if i := strings.IndexByte(pkgPath, '/'); i >= 0 {
		first = pkgPath[:i]
	}
	return !strings.Contains(first, ".")
}

// Describe returns the bindable properties of a struct type (or pointer to one)
// in declaration order, promoted properties last.
func Describe(t reflect.Type) ([]PropertyDescriptor, error) {
	if t == nil || indirectType(t).Kind() != reflect.Struct {
		return nil, errors.New(ErrCodeInvalidBeanType, "bean type must be a struct")
	}
	schema, err := schemaOf(indirectType(t))
	if err != nil {
		return nil, err
	}
	props := schema.properties
	out := make([]PropertyDescriptor, len(props))
	copy(out, props)
	return out, nil
}

// BuildBindings computes the configuration key -> property path table for the type of
// prototype under the given prefix. It walks nested struct properties depth-first and
// fails with ErrCodeCyclicBeanGraph when a type re-enters itself along one branch or
// through embedding. Fields whose names do not dash to a valid, unique configuration
// name fail with ErrCodeInvalidPropertyName.
func BuildBindings(prototype interface{}, prefix string) (map[string]string, error) {
	if prototype == nil {
		return nil, errors.New(ErrCodeInvalidBeanType, "prototype cannot be nil")
	}
	return buildBindings(reflect.TypeOf(prototype), prefix)
}

func buildBindings(t reflect.Type, prefix string) (map[string]string, error) {
	t = indirectType(t)
	if t.Kind() != reflect.Struct {
		return nil, errors.New(ErrCodeInvalidBeanType, "bean type must be a struct").
			WithContext("type", t.String())
	}

	bindings := make(map[string]string)
	visiting := make(map[reflect.Type]bool)
	if err := collectBindings(t, prefix, "", bindings, visiting); err != nil {
		return nil, err
	}
	return bindings, nil
}

func collectBindings(t reflect.Type, prefix, nestedPath string, bindings map[string]string, visiting map[reflect.Type]bool) error {
	t = indirectType(t)
	if !isCandidateType(t) {
		return nil
	}
	if visiting[t] {
		return errors.New(ErrCodeCyclicBeanGraph, "bean type graph contains a cycle").
			WithContext("type", t.String()).
			WithContext("path", nestedPath)
	}
	visiting[t] = true
	defer delete(visiting, t)

	schema, err := schemaOf(t)
	if err != nil {
		return err
	}
	for _, p := range schema.properties {
		key := joinKey(prefix, p.ConfigName)
		path := p.Name
		if nestedPath != "" {
			path = nestedPath + "." + p.Name
		}
		bindings[key] = path

		if err := collectBindings(p.Type, key, path, bindings, visiting); err != nil {
			return err
		}
	}
	return nil
}

func joinKey(prefix, element string) string {
	if prefix == "" {
		return element
	}
	return prefix + "." + element
}

// sortedKeys returns the keys of a binding table in lexical order.
func sortedKeys(bindings map[string]string) []string {
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
