package expr

import (
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	prefixKey        = "key"
	prefixFilter     = "flt"
	prefixCondition  = "cnd"
	prefixUpdate     = "upd"
	prefixProjection = "prj"
)

// Builder renders the clauses of a single operation. Each clause may be set
// at most once. Tokens are numbered by one counter in call order, so the same
// sequence of calls always renders the same expression.
//
// The first error is kept and returned by Build; later calls are no-ops.
type Builder struct {
	next   int
	names  map[string]string
	tokens map[string]string
	values map[string]types.AttributeValue
	err    error
	out    Expression
}

// NewBuilder returns an empty builder. A builder renders one request.
func NewBuilder() *Builder {
	return &Builder{
		names:  map[string]string{},
		tokens: map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

// KeyCondition renders kc against the key definition of the table or index
// being queried.
func (b *Builder) KeyCondition(def table.PrimaryKeyDefinition, kc KeyCondition) *Builder {
	if b.err != nil {
		return b
	}
	s := kc.render(b, def)
	b.set("key condition", &b.out.KeyCondition, s)
	return b
}

// Condition sets the condition expression of a write. An unset condition
// adds nothing.
func (b *Builder) Condition(c Condition) *Builder {
	if b.err != nil || !c.IsSet() {
		return b
	}
	s := c.n.render(b, prefixCondition)
	b.set("condition", &b.out.Condition, s)
	return b
}

// Filter sets the filter expression of a query or scan. An unset condition
// adds nothing.
func (b *Builder) Filter(c Condition) *Builder {
	if b.err != nil || !c.IsSet() {
		return b
	}
	s := c.n.render(b, prefixFilter)
	b.set("filter", &b.out.Filter, s)
	return b
}

// Update sets the update expression. An update without actions is a
// ValidationError.
func (b *Builder) Update(u Update) *Builder {
	if b.err != nil {
		return b
	}
	s := u.render(b)
	b.set("update", &b.out.Update, s)
	return b
}

// Build returns the rendered expression or the first error.
func (b *Builder) Build() (Expression, error) {
	if b.err != nil {
		return Expression{}, b.err
	}
	out := b.out
	out.Names, out.Values = nilIfEmpty(copyNames(b.names), copyValues(b.values))
	return out, nil
}

func (b *Builder) set(clause string, dst **string, s string) {
	if b.err != nil {
		return
	}
	if *dst != nil {
		b.fail(ddberr.Validationf("%s already set", clause))
		return
	}
	*dst = &s
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// name returns the token for attr, reusing it within one clause prefix.
func (b *Builder) name(prefix, attr string) string {
	if attr == "" {
		b.fail(ddberr.Validationf("attribute name cannot be empty"))
	}
	k := prefix + "\x00" + attr
	if tok, ok := b.tokens[k]; ok {
		return tok
	}
	tok := fmt.Sprintf("#%s_%d", prefix, b.next)
	b.next++
	b.tokens[k] = tok
	b.names[tok] = attr
	return tok
}

func (b *Builder) value(prefix string, v any) string {
	av, err := marshalValue(v)
	if err != nil {
		b.fail(ddberr.Validationf("marshal %T: %w", v, err))
		av = &types.AttributeValueMemberNULL{Value: true}
	}
	return b.attributeValue(prefix, av)
}

func (b *Builder) attributeValue(prefix string, av types.AttributeValue) string {
	tok := fmt.Sprintf(":%s_%d", prefix, b.next)
	b.next++
	b.values[tok] = av
	return tok
}

func marshalValue(v any) (types.AttributeValue, error) {
	if av, ok := v.(types.AttributeValue); ok {
		return av, nil
	}
	av, err := attributevalue.Marshal(v)
	if err == nil && av == nil {
		err = fmt.Errorf("%T has no attribute value form", v)
	}
	return av, err
}

func copyNames(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyValues(m map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
