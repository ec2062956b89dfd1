package config

import (
	"fmt"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"
)

// Values is a raw configuration document.
type Values map[string]interface{}

// Layer is one configuration source before it is merged.
type Layer struct {
	Sources []string
	Values  Values
}

type Layers []*Layer

func (l *Layer) valuesCopy() (Values, error) {
	result := Values{}
	data, err := yaml.Marshal(l.Values)
	if err != nil {
		return result, err
	}
	err = yaml.Unmarshal(data, &result)
	return result, err
}

// Merge merges other on top of the receiver.
func (l *Layer) Merge(other *Layer) error {
	aMap, err := l.valuesCopy()
	if err != nil {
		return err
	}
	bMap, err := other.valuesCopy()
	if err != nil {
		return err
	}
	merged, err := DeepMerge(aMap, bMap)
	if err != nil {
		return fmt.Errorf("merging %v: %w", other.Sources, err)
	}
	l.Sources = append(l.Sources, other.Sources...)
	l.Values = merged.(Values)
	return nil
}

// Override replaces top level keys of the receiver with the ones of other,
// without merging lists. Used for environment overrides.
func (l *Layer) Override(other *Layer) {
	if len(other.Values) == 0 {
		return
	}
	if l.Values == nil {
		l.Values = Values{}
	}
	keys := make([]string, 0, len(other.Values))
	for k := range other.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		l.Values[k] = other.Values[k]
	}
	l.Sources = append(l.Sources, other.Sources...)
}

func (ls Layers) Merge() (*Layer, error) {
	result := &Layer{Values: Values{}}
	for _, l := range ls {
		if err := result.Merge(l); err != nil {
			return result, err
		}
	}
	return result, nil
}

// mergeSlices unions scalar lists and concatenates lists of maps.
func mergeSlices(sliceA, sliceB []interface{}) []interface{} {
	if len(sliceA) == 0 {
		return sliceB
	}
	if reflect.ValueOf(sliceA[0]).Kind() == reflect.Map {
		return append(sliceA, sliceB...)
	}
	for _, vB := range sliceB {
		found := false
		for _, vA := range sliceA {
			if vA == vB {
				found = true
				break
			}
		}
		if !found {
			sliceA = append(sliceA, vB)
		}
	}
	return sliceA
}

func deepMergeMaps(a, b Values) (Values, error) {
	for k, v := range b {
		current, ok := a[k]
		if !ok {
			a[k] = v
			continue
		}
		res, err := DeepMerge(current, v)
		if err != nil {
			return a, fmt.Errorf("key %s: %w", k, err)
		}
		a[k] = res
	}
	return a, nil
}

// DeepMerge merges b into a. Scalars in b win, maps merge recursively and
// lists are unioned.
func DeepMerge(a, b interface{}) (interface{}, error) {
	if a == nil {
		return b, nil
	}
	typeA := reflect.TypeOf(a)

	// An explicit null resets the value
	if b == nil {
		switch typeA.Kind() {
		case reflect.Slice:
			return reflect.MakeSlice(typeA, 0, 0).Interface(), nil
		case reflect.Map:
			return reflect.MakeMap(typeA).Interface(), nil
		}
		return reflect.Zero(typeA).Interface(), nil
	}

	typeB := reflect.TypeOf(b)
	if typeA.Kind() != typeB.Kind() {
		return nil, fmt.Errorf("cannot merge %s with %s", typeA.String(), typeB.String())
	}

	switch typeA.Kind() {
	case reflect.Slice:
		return mergeSlices(a.([]interface{}), b.([]interface{})), nil
	case reflect.Map:
		return deepMergeMaps(toValues(a), toValues(b))
	}
	return b, nil
}

// toValues accepts both Values and the plain map yaml.v3 produces for
// nested documents.
func toValues(v interface{}) Values {
	switch m := v.(type) {
	case Values:
		return m
	case map[string]interface{}:
		return Values(m)
	}
	return Values{}
}
