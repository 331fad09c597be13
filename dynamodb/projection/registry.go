// Package projection decodes untyped items into a closed set of typed views,
// dispatching on the table's entity type attribute, and folds them into
// caller-defined aggregates.
package projection

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Item = map[string]types.AttributeValue

// Registry is the set of projections one query may return, all wrapped into
// the sum type V. Register every variant before the first Decode; a Registry
// is safe for concurrent Decode calls after that.
type Registry[V any] struct {
	def      table.TableDefinition
	variants []variant[V]
	tags     map[string]bool
}

type variant[V any] struct {
	tag       string
	recognize func(Item) bool
	decode    func(Item) (V, error)
	attrs     []string
}

func NewRegistry[V any](def table.TableDefinition) *Registry[V] {
	return &Registry[V]{def: def, tags: map[string]bool{}}
}

// Register adds projection P for items whose entity type is tag.
func Register[P, V any](r *Registry[V], tag string, wrap func(P) V) error {
	attrs, err := attributeNames(reflect.TypeOf((*P)(nil)).Elem())
	if err != nil {
		return ddberr.Validationf("projection for %q: %w", tag, err)
	}
	return r.add(variant[V]{
		tag:       tag,
		recognize: r.hasTag(tag),
		decode:    decoder(wrap),
		attrs:     attrs,
	})
}

// RegisterEntity adds projection P of entity E, tagged with E's EntityType.
// Every attribute P declares must be produced when E is stored: one of E's
// fields, a key attribute of the table, the entity type attribute or the
// time-to-live attribute.
func RegisterEntity[E table.Entity, P, V any](r *Registry[V], wrap func(P) V) error {
	entityType := reflect.TypeOf((*E)(nil)).Elem()
	tag := zeroEntity[E](entityType).EntityType()

	produced, err := attributeNames(entityType)
	if err != nil {
		return ddberr.Validationf("entity %q: %w", tag, err)
	}
	produced = append(produced, r.def.KeyAttributes()...)
	produced = append(produced, r.def.EntityTypeAttr())
	if r.def.TimeToLiveKey != "" {
		produced = append(produced, r.def.TimeToLiveKey)
	}
	declared, err := attributeNames(reflect.TypeOf((*P)(nil)).Elem())
	if err != nil {
		return ddberr.Validationf("projection for %q: %w", tag, err)
	}
	if missing := difference(declared, produced); len(missing) > 0 {
		var p P
		return ddberr.Validationf("projection %T declares attributes %s that entity %q does not produce",
			p, strings.Join(missing, ", "), tag)
	}
	return r.add(variant[V]{
		tag:       tag,
		recognize: r.hasTag(tag),
		decode:    decoder(wrap),
		attrs:     declared,
	})
}

// RegisterFunc adds a variant with its own recognizer and decoder. attrs are
// the attributes the decoder reads, for Attributes.
func RegisterFunc[V any](r *Registry[V], tag string, recognize func(Item) bool, decode func(Item) (V, error), attrs ...string) error {
	if recognize == nil || decode == nil {
		return ddberr.Validationf("projection %q needs a recognizer and a decoder", tag)
	}
	return r.add(variant[V]{tag: tag, recognize: recognize, decode: decode, attrs: attrs})
}

func (r *Registry[V]) add(v variant[V]) error {
	if v.tag == "" {
		return ddberr.Validationf("projection entity type cannot be empty")
	}
	if r.tags[v.tag] {
		return ddberr.Validationf("projection for entity type %q already registered", v.tag)
	}
	r.tags[v.tag] = true
	r.variants = append(r.variants, v)
	return nil
}

func (r *Registry[V]) hasTag(tag string) func(Item) bool {
	attr := r.def.EntityTypeAttr()
	return func(item Item) bool {
		s, ok := item[attr].(*types.AttributeValueMemberS)
		return ok && s.Value == tag
	}
}

func decoder[P, V any](wrap func(P) V) func(Item) (V, error) {
	return func(item Item) (V, error) {
		var p P
		if err := attributevalue.UnmarshalMap(item, &p); err != nil {
			var zero V
			return zero, err
		}
		return wrap(p), nil
	}
}

func zeroEntity[E table.Entity](t reflect.Type) E {
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface().(E)
	}
	var e E
	return e
}

// Decode converts item into the variant that recognizes it. An item without
// an entity type, one no variant recognizes, or one that fails to decode is a
// ProjectionMismatchError.
func (r *Registry[V]) Decode(item Item) (V, error) {
	var zero V
	attr := r.def.EntityTypeAttr()
	tagAV, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return zero, &ddberr.ProjectionMismatchError{Reason: "missing entity type"}
	}
	for _, v := range r.variants {
		if !v.recognize(item) {
			continue
		}
		out, err := v.decode(item)
		if err != nil {
			return zero, &ddberr.ProjectionMismatchError{
				EntityType: tagAV.Value,
				Reason:     fmt.Sprintf("decode as %q failed", v.tag),
				Err:        err,
			}
		}
		return out, nil
	}
	return zero, &ddberr.ProjectionMismatchError{EntityType: tagAV.Value, Reason: "no projection registered"}
}

// Tags returns the registered entity types in registration order.
func (r *Registry[V]) Tags() []string {
	out := make([]string, len(r.variants))
	for i, v := range r.variants {
		out[i] = v.tag
	}
	return out
}

// Attributes returns, sorted, every attribute some variant reads plus the
// entity type attribute. Use it as the projection of queries decoded by r.
func (r *Registry[V]) Attributes() []string {
	set := map[string]bool{r.def.EntityTypeAttr(): true}
	for _, v := range r.variants {
		for _, a := range v.attrs {
			set[a] = true
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func difference(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var missing []string
	for _, w := range want {
		if !set[w] {
			missing = append(missing, w)
		}
	}
	return missing
}
