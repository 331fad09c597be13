package projection

import (
	"fmt"
	"reflect"
	"strings"
)

// attributeNames lists the top-level attribute names attributevalue.MarshalMap
// produces for values of type t. Untagged embedded structs are flattened the
// same way the encoder does.
func attributeNames(t reflect.Type) ([]string, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}
	var names []string
	seen := map[string]bool{}
	collectNames(t, seen, &names)
	return names, nil
}

func collectNames(t reflect.Type, seen map[string]bool, names *[]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, tagged := tagName(field)
		if name == "-" {
			continue
		}
		if field.Anonymous && !tagged {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectNames(ft, seen, names)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if !seen[name] {
			seen[name] = true
			*names = append(*names, name)
		}
	}
}

// tagName extracts the attribute name from the dynamodbav tag, falling back
// to the field name like the encoder does.
func tagName(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup("dynamodbav")
	if !ok {
		return field.Name, false
	}
	if idx := strings.Index(tag, ","); idx != -1 {
		tag = tag[:idx]
	}
	if tag == "" {
		return field.Name, false
	}
	return tag, true
}
