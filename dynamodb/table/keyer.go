package table

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Keyer derives one key attribute from an entity's serialized document.
// A keyer fails with an error wrapping ErrMissingField if a field it needs is
// absent, so a key is never built from partial data.
type Keyer interface {
	Key(doc map[string]types.AttributeValue) (types.AttributeValue, error)
}

// FmtKeyer tries to find the `keys` in the document being inserted, and passes them to the format string.
// The keys can only be of type string, number, or bytes.
// Keys support nesting by using dot notation, e.g. "meta.version".
//
// The format string should only use %s, not %d. This is because numbers are encoded as strings in dynamo.
func FmtKeyer(fmt string, keys ...string) Keyer {
	return &keyFormat{fmt, keys}
}

type keyFormat struct {
	fmt  string
	keys []string
}

func (k keyFormat) Key(doc map[string]types.AttributeValue) (types.AttributeValue, error) {
	vals := make([]any, len(k.keys))
	for i, key := range k.keys {
		s, err := scalarAt(doc, key)
		if err != nil {
			return nil, err
		}
		vals[i] = s
	}
	return &types.AttributeValueMemberS{Value: fmt.Sprintf(k.fmt, vals...)}, nil
}

// PatternKeyer builds a string key from a pattern using {field} references:
//
//	PatternKeyer("PROFILE")             // constant
//	PatternKeyer("USER#{id}")           // composite with field
//	PatternKeyer("ORDER#{a}#{b}")       // multiple fields
//	PatternKeyer("{user.id}")           // nested field
//
// Panics if the pattern is invalid.
func PatternKeyer(pattern string) Keyer {
	p, err := ParsePattern(pattern)
	if err != nil {
		panic(fmt.Sprintf("table.PatternKeyer: %v", err))
	}
	return p
}

// Pattern is a parsed key pattern, see PatternKeyer.
type Pattern struct {
	raw   string
	parts []patternPart
}

type patternPart struct {
	literal bool
	value   string
}

var fieldRefRegex = regexp.MustCompile(`\{([^}]*)\}`)

// ParsePattern parses a {field} key pattern.
func ParsePattern(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, fmt.Errorf("pattern cannot be empty")
	}
	p := Pattern{raw: raw}
	lastEnd := 0
	for _, match := range fieldRefRegex.FindAllStringSubmatchIndex(raw, -1) {
		start, end := match[0], match[1]
		ref := raw[match[2]:match[3]]
		if start > lastEnd {
			p.parts = append(p.parts, patternPart{literal: true, value: raw[lastEnd:start]})
		}
		if ref == "" {
			return Pattern{}, fmt.Errorf("empty field reference at position %d", start)
		}
		for i, comp := range strings.Split(ref, ".") {
			if comp == "" {
				return Pattern{}, fmt.Errorf("invalid field path %q: empty component at position %d", ref, i)
			}
		}
		p.parts = append(p.parts, patternPart{value: ref})
		lastEnd = end
	}
	if lastEnd < len(raw) {
		p.parts = append(p.parts, patternPart{literal: true, value: raw[lastEnd:]})
	}
	return p, nil
}

func (p Pattern) String() string { return p.raw }

// FieldRefs returns the field references in order.
// For "ORDER#{tenant}#{id}", returns ["tenant", "id"].
func (p Pattern) FieldRefs() []string {
	var refs []string
	for _, part := range p.parts {
		if !part.literal {
			refs = append(refs, part.value)
		}
	}
	return refs
}

func (p Pattern) Key(doc map[string]types.AttributeValue) (types.AttributeValue, error) {
	var sb strings.Builder
	for _, part := range p.parts {
		if part.literal {
			sb.WriteString(part.value)
			continue
		}
		s, err := scalarAt(doc, part.value)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	return &types.AttributeValueMemberS{Value: sb.String()}, nil
}

func CopyKeyer(key string) Keyer {
	return &copyKey{key}
}

type copyKey struct {
	key string
}

func (k copyKey) Key(doc map[string]types.AttributeValue) (types.AttributeValue, error) {
	v, err := lookupPath(doc, k.key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func ConstKeyer(val types.AttributeValue) Keyer {
	return &constKey{val}
}

type constKey struct {
	val types.AttributeValue
}

func (k constKey) Key(map[string]types.AttributeValue) (types.AttributeValue, error) {
	return k.val, nil
}

func lookupPath(doc map[string]types.AttributeValue, path string) (types.AttributeValue, error) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		v, ok := cur[part]
		if !ok {
			return nil, ddberr.Validationf("field %q: %w", path, ErrMissingField)
		}
		if _, isNull := v.(*types.AttributeValueMemberNULL); isNull {
			return nil, ddberr.Validationf("field %q is null: %w", path, ErrMissingField)
		}
		if i == len(parts)-1 {
			return v, nil
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, ddberr.Validationf("field %q: %q is %T, not a map", path, part, v)
		}
		cur = m.Value
	}
	return nil, ddberr.Validationf("field %q: %w", path, ErrMissingField)
}

func scalarAt(doc map[string]types.AttributeValue, path string) (string, error) {
	v, err := lookupPath(doc, path)
	if err != nil {
		return "", err
	}
	switch attr := v.(type) {
	case *types.AttributeValueMemberS:
		return attr.Value, nil
	case *types.AttributeValueMemberN:
		return attr.Value, nil
	case *types.AttributeValueMemberB:
		return string(attr.Value), nil
	default:
		return "", ddberr.Validationf("type for key %q is not string, number, or bytes, got %T", path, v)
	}
}
