package expr

import "strings"

// Condition is an immutable condition or filter tree. The zero Condition is
// unset: it renders nothing and is dropped by And and Or.
type Condition struct {
	n node
}

type node interface {
	render(b *Builder, prefix string) string
}

// IsSet reports whether c holds a condition.
func (c Condition) IsSet() bool {
	return c.n != nil
}

func (c Condition) And(others ...Condition) Condition {
	return And(append([]Condition{c}, others...)...)
}

func (c Condition) Or(others ...Condition) Condition {
	return Or(append([]Condition{c}, others...)...)
}

// And joins the set conditions. A single set condition is returned as is.
func And(conds ...Condition) Condition {
	return logical("AND", conds)
}

// Or joins the set conditions. A single set condition is returned as is.
func Or(conds ...Condition) Condition {
	return logical("OR", conds)
}

// Not negates c. An unset condition stays unset.
func Not(c Condition) Condition {
	if !c.IsSet() {
		return c
	}
	return Condition{notNode{c.n}}
}

func logical(op string, conds []Condition) Condition {
	var kids []node
	for _, c := range conds {
		if c.IsSet() {
			kids = append(kids, c.n)
		}
	}
	switch len(kids) {
	case 0:
		return Condition{}
	case 1:
		return Condition{kids[0]}
	}
	return Condition{logicalNode{op: op, kids: kids}}
}

type logicalNode struct {
	op   string
	kids []node
}

func (n logicalNode) render(b *Builder, prefix string) string {
	parts := make([]string, len(n.kids))
	for i, k := range n.kids {
		parts[i] = "(" + k.render(b, prefix) + ")"
	}
	return strings.Join(parts, " "+n.op+" ")
}

type notNode struct {
	n node
}

func (n notNode) render(b *Builder, prefix string) string {
	return "NOT (" + n.n.render(b, prefix) + ")"
}

// AttributeExists is true when the item has the attribute.
func AttributeExists(name string) Condition {
	return Condition{funcNode{fn: "attribute_exists", name: name}}
}

// AttributeNotExists is true when the item lacks the attribute.
func AttributeNotExists(name string) Condition {
	return Condition{funcNode{fn: "attribute_not_exists", name: name}}
}

// NameBuilder starts a comparison on one attribute:
//
//	expr.Name("status").Equal("active")
type NameBuilder struct {
	name string
}

// Name starts a condition on an attribute.
func Name(name string) NameBuilder {
	return NameBuilder{name: name}
}

func (n NameBuilder) Exists() Condition    { return AttributeExists(n.name) }
func (n NameBuilder) NotExists() Condition { return AttributeNotExists(n.name) }

func (n NameBuilder) Equal(v any) Condition            { return n.cmp("=", v) }
func (n NameBuilder) NotEqual(v any) Condition         { return n.cmp("<>", v) }
func (n NameBuilder) LessThan(v any) Condition         { return n.cmp("<", v) }
func (n NameBuilder) LessThanEqual(v any) Condition    { return n.cmp("<=", v) }
func (n NameBuilder) GreaterThan(v any) Condition      { return n.cmp(">", v) }
func (n NameBuilder) GreaterThanEqual(v any) Condition { return n.cmp(">=", v) }

func (n NameBuilder) Between(lo, hi any) Condition {
	return Condition{betweenNode{name: n.name, lo: lo, hi: hi}}
}

func (n NameBuilder) BeginsWith(prefix string) Condition {
	return Condition{funcNode{fn: "begins_with", name: n.name, args: []any{prefix}}}
}

// Contains is true when a string attribute contains v as a substring, or a
// set or list attribute contains v as an element.
func (n NameBuilder) Contains(v any) Condition {
	return Condition{funcNode{fn: "contains", name: n.name, args: []any{v}}}
}

func (n NameBuilder) AttributeType(t AttributeType) Condition {
	return Condition{funcNode{fn: "attribute_type", name: n.name, args: []any{string(t)}}}
}

func (n NameBuilder) cmp(op string, v any) Condition {
	return Condition{cmpNode{name: n.name, op: op, v: v}}
}

// AttributeType is a DynamoDB data type descriptor.
type AttributeType string

const (
	TypeString    AttributeType = "S"
	TypeStringSet AttributeType = "SS"
	TypeNumber    AttributeType = "N"
	TypeNumberSet AttributeType = "NS"
	TypeBinary    AttributeType = "B"
	TypeBinarySet AttributeType = "BS"
	TypeBoolean   AttributeType = "BOOL"
	TypeNull      AttributeType = "NULL"
	TypeList      AttributeType = "L"
	TypeMap       AttributeType = "M"
)

type cmpNode struct {
	name string
	op   string
	v    any
}

func (n cmpNode) render(b *Builder, prefix string) string {
	return b.name(prefix, n.name) + " " + n.op + " " + b.value(prefix, n.v)
}

type betweenNode struct {
	name   string
	lo, hi any
}

func (n betweenNode) render(b *Builder, prefix string) string {
	name := b.name(prefix, n.name)
	lo := b.value(prefix, n.lo)
	return name + " BETWEEN " + lo + " AND " + b.value(prefix, n.hi)
}

type funcNode struct {
	fn   string
	name string
	args []any
}

func (n funcNode) render(b *Builder, prefix string) string {
	var sb strings.Builder
	sb.WriteString(n.fn)
	sb.WriteString("(")
	sb.WriteString(b.name(prefix, n.name))
	for _, a := range n.args {
		sb.WriteString(", ")
		sb.WriteString(b.value(prefix, a))
	}
	sb.WriteString(")")
	return sb.String()
}
