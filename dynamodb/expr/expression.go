// Package expr renders DynamoDB key condition, condition, filter, update and
// projection expressions with collision-free placeholders.
//
// One Builder is used per operation. Every clause kind draws its tokens from
// the builder's counter with its own prefix, so expressions from independent
// builders can be combined with Merge.
package expr

import (
	"sort"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap/zapcore"
)

// Expression is the rendered output of a Builder. Clause fields are nil when
// the clause was not requested, and the maps are nil when empty.
type Expression struct {
	KeyCondition *string
	Condition    *string
	Filter       *string
	Update       *string
	Projection   *string
	Names        map[string]string
	Values       map[string]types.AttributeValue
}

var _ zapcore.ObjectMarshaler = Expression{}

// MarshalLogObject logs the expression strings and name substitutions.
// Values are reduced to their count.
func (e Expression) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, f := range []struct {
		key string
		val *string
	}{
		{"key_condition", e.KeyCondition},
		{"condition", e.Condition},
		{"filter", e.Filter},
		{"update", e.Update},
		{"projection", e.Projection},
	} {
		if f.val != nil {
			enc.AddString(f.key, *f.val)
		}
	}
	if len(e.Names) > 0 {
		err := enc.AddObject("names", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			tokens := make([]string, 0, len(e.Names))
			for tok := range e.Names {
				tokens = append(tokens, tok)
			}
			sort.Strings(tokens)
			for _, tok := range tokens {
				enc.AddString(tok, e.Names[tok])
			}
			return nil
		}))
		if err != nil {
			return err
		}
	}
	enc.AddInt("values", len(e.Values))
	return nil
}

// IsEmpty reports whether no clause is set.
func (e Expression) IsEmpty() bool {
	return e.KeyCondition == nil && e.Condition == nil && e.Filter == nil && e.Update == nil && e.Projection == nil
}

// Merge combines expressions built independently, for example a key
// condition from one builder and a filter from another. Setting the same
// clause twice, or reusing a token for a different name or value, is a
// ValidationError.
func Merge(exprs ...Expression) (Expression, error) {
	var out Expression
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	for _, e := range exprs {
		for _, c := range []struct {
			clause   string
			dst, src **string
		}{
			{"key condition", &out.KeyCondition, &e.KeyCondition},
			{"condition", &out.Condition, &e.Condition},
			{"filter", &out.Filter, &e.Filter},
			{"update", &out.Update, &e.Update},
			{"projection", &out.Projection, &e.Projection},
		} {
			if *c.src == nil {
				continue
			}
			if *c.dst != nil {
				return Expression{}, ddberr.Validationf("merge: %s set more than once", c.clause)
			}
			*c.dst = *c.src
		}
		for tok, name := range e.Names {
			if existing, ok := names[tok]; ok && existing != name {
				return Expression{}, ddberr.Validationf("merge: name token %s maps to both %q and %q", tok, existing, name)
			}
			names[tok] = name
		}
		for tok, v := range e.Values {
			if _, ok := values[tok]; ok {
				return Expression{}, ddberr.Validationf("merge: value token %s used more than once", tok)
			}
			values[tok] = v
		}
	}
	out.Names, out.Values = nilIfEmpty(names, values)
	return out, nil
}

// FromSDK converts an expression built with the AWS SDK expression package.
// Its tokens (#0, :0, ...) never collide with the prefixed tokens of a
// Builder, so the result can be merged with them.
func FromSDK(e expression.Expression) Expression {
	names, values := nilIfEmpty(e.Names(), e.Values())
	return Expression{
		KeyCondition: e.KeyCondition(),
		Condition:    e.Condition(),
		Filter:       e.Filter(),
		Update:       e.Update(),
		Projection:   e.Projection(),
		Names:        names,
		Values:       values,
	}
}

func nilIfEmpty(names map[string]string, values map[string]types.AttributeValue) (map[string]string, map[string]types.AttributeValue) {
	if len(names) == 0 {
		names = nil
	}
	if len(values) == 0 {
		values = nil
	}
	return names, values
}
