package config

import (
	"fmt"
	"sort"
	"strconv"
)

// Map holds validated values for the keys of a Schema.
type Map struct {
	schema Schema
	values map[string]string // Only keys set to a non-default value.
}

// Load validates values against schema and returns the resulting Map.
//
// All invalid keys are reported together in an ErrorList and nothing is
// loaded in that case.
func Load(schema Schema, values map[string]string) (Map, error) {
	m := Map{schema: schema, values: map[string]string{}}

	_, err := m.apply(values)
	if err != nil {
		return Map{}, err
	}

	return m, nil
}

// Change applies changes on top of the current values. An empty value resets
// a key to its default. Either all changes are applied or none is, and the
// sorted names of the keys whose value actually changed are returned.
func (m *Map) Change(changes map[string]string) ([]string, error) {
	return m.apply(changes)
}

func (m *Map) apply(changes map[string]string) ([]string, error) {
	next := make(map[string]string, len(m.values))
	for name, value := range m.values {
		next[name] = value
	}

	errs := ErrorList{}
	for name, value := range changes {
		key, ok := m.schema[name]
		if !ok {
			errs.add(name, value, "unknown key")
			continue
		}

		normalized, err := key.normalize(value)
		if err != nil {
			errs.add(name, value, err.Error())
			continue
		}

		if normalized == "" || normalized == key.Default {
			delete(next, name)
		} else {
			next[name] = normalized
		}
	}

	if errs.Len() > 0 {
		errs.sort()
		return nil, errs
	}

	changed := []string{}
	for name := range m.schema {
		if m.get(name) != m.lookupIn(next, name) {
			changed = append(changed, name)
		}
	}

	sort.Strings(changed)
	m.values = next

	return changed, nil
}

func (m *Map) lookupIn(values map[string]string, name string) string {
	value, ok := values[name]
	if !ok {
		return m.schema[name].Default
	}

	return value
}

func (m *Map) get(name string) string {
	return m.lookupIn(m.values, name)
}

// Dump returns the keys whose value differs from the default.
func (m *Map) Dump() map[string]string {
	values := make(map[string]string, len(m.values))
	for name, value := range m.values {
		values[name] = value
	}

	return values
}

// GetString returns the value of a String key.
func (m *Map) GetString(name string) string {
	m.schema.lookup(name, String)
	return m.get(name)
}

// GetBool returns the value of a Bool key.
func (m *Map) GetBool(name string) bool {
	m.schema.lookup(name, Bool)
	b, _ := parseBool(m.get(name))
	return b
}

// GetInt64 returns the value of an Int64 key.
func (m *Map) GetInt64(name string) int64 {
	m.schema.lookup(name, Int64)
	n, err := strconv.ParseInt(m.get(name), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("config key %q holds a non integer default: %v", name, err))
	}

	return n
}
