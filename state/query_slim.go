//go:build queryslim

package state

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Query resolves a dotted path such as partitions.[0].uuid without jq.
func (i Inventory) Query(s string) (res string, err error) {
	var parts []string
	for _, p := range strings.Split(s, ".") {
		for len(p) > 0 {
			if p[0] == '[' {
				end := strings.Index(p, "]")
				if end > 0 {
					idx := p[1:end]
					parts = append(parts, idx)
					p = p[end+1:]
					continue
				}
			}
			bracketIdx := strings.Index(p, "[")
			if bracketIdx > 0 {
				parts = append(parts, p[:bracketIdx])
				p = p[bracketIdx:]
				continue
			}
			parts = append(parts, p)
			break
		}
	}
	v := reflect.ValueOf(i)
	for _, part := range parts {
		// Dereference pointer if needed
		for v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		// If part is a number, treat as slice/array index
		if idx, err := strconv.Atoi(part); err == nil {
			if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
				if idx < 0 || idx >= v.Len() {
					return "", fmt.Errorf("invalid slice index '%s'", part)
				}
				v = v.Index(idx)
				continue
			}
		}
		switch v.Kind() {
		case reflect.Struct:
			field, ok := fieldByName(v, part)
			if !ok {
				return "", fmt.Errorf("field '%s' not found", part)
			}
			v = field
		case reflect.Map:
			key := reflect.ValueOf(part)
			v = v.MapIndex(key)
			if !v.IsValid() {
				return "", fmt.Errorf("map key '%s' not found", part)
			}
		default:
			return "", fmt.Errorf("cannot traverse into %s", v.Kind())
		}
	}
	// Convert final value to string
	if v.Kind() == reflect.Ptr && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() == reflect.String {
		return v.String(), nil
	}
	return fmt.Sprint(v.Interface()), nil
}

// fieldByName matches the Go or json name, looking into embedded structs the
// way encoding/json flattens them.
func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for n := 0; n < t.NumField(); n++ {
		field := t.Field(n)
		jsonName := strings.Split(field.Tag.Get("json"), ",")[0]
		if strings.EqualFold(field.Name, name) || (jsonName != "" && strings.EqualFold(jsonName, name)) {
			return v.Field(n), true
		}
	}
	for n := 0; n < t.NumField(); n++ {
		if t.Field(n).Anonymous && v.Field(n).Kind() == reflect.Struct {
			if f, ok := fieldByName(v.Field(n), name); ok {
				return f, true
			}
		}
	}
	return reflect.Value{}, false
}
