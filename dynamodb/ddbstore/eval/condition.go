package eval

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is a parsed condition or filter expression.
type Condition struct {
	root condNode
}

// ParseCondition parses a condition or filter expression and resolves its
// placeholders against in.
func ParseCondition(src string, in Input) (*Condition, error) {
	p, err := newParser(src, in)
	if err != nil {
		return nil, err
	}
	root, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if err := p.done(); err != nil {
		return nil, err
	}
	return &Condition{root: root}, nil
}

// Eval reports whether item satisfies the condition. A nil item is treated as
// an item with no attributes.
func (c *Condition) Eval(item Item) (bool, error) {
	return c.root.eval(item)
}

// Check parses and evaluates src in one step. An empty or nil src always
// passes.
func Check(src *string, in Input, item Item) (bool, error) {
	if src == nil || strings.TrimSpace(*src) == "" {
		return true, nil
	}
	c, err := ParseCondition(*src, in)
	if err != nil {
		return false, err
	}
	return c.Eval(item)
}

type condNode interface {
	eval(Item) (bool, error)
}

type andNode struct{ l, r condNode }

func (n andNode) eval(item Item) (bool, error) {
	ok, err := n.l.eval(item)
	if err != nil || !ok {
		return false, err
	}
	return n.r.eval(item)
}

type orNode struct{ l, r condNode }

func (n orNode) eval(item Item) (bool, error) {
	ok, err := n.l.eval(item)
	if err != nil || ok {
		return ok, err
	}
	return n.r.eval(item)
}

type notNode struct{ x condNode }

func (n notNode) eval(item Item) (bool, error) {
	ok, err := n.x.eval(item)
	return !ok, err
}

type cmpNode struct {
	op   string
	l, r operand
}

func (n cmpNode) eval(item Item) (bool, error) {
	l, lok := n.l.resolve(item)
	r, rok := n.r.resolve(item)
	if n.op == "<>" {
		return !(lok && rok && Equal(l, r)), nil
	}
	if !lok || !rok {
		return false, nil
	}
	if n.op == "=" {
		return Equal(l, r), nil
	}
	c, ok := Compare(l, r)
	if !ok {
		return false, nil
	}
	switch n.op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparator %q", n.op)
}

type betweenNode struct{ x, lo, hi operand }

func (n betweenNode) eval(item Item) (bool, error) {
	x, xok := n.x.resolve(item)
	lo, lok := n.lo.resolve(item)
	hi, hok := n.hi.resolve(item)
	if !xok || !lok || !hok {
		return false, nil
	}
	if c, ok := Compare(lo, hi); ok && c > 0 {
		return false, fmt.Errorf("invalid BETWEEN: lower bound is greater than upper bound")
	}
	c1, ok1 := Compare(x, lo)
	c2, ok2 := Compare(x, hi)
	return ok1 && ok2 && c1 >= 0 && c2 <= 0, nil
}

type inNode struct {
	x    operand
	list []operand
}

func (n inNode) eval(item Item) (bool, error) {
	x, ok := n.x.resolve(item)
	if !ok {
		return false, nil
	}
	for _, o := range n.list {
		if v, ok := o.resolve(item); ok && Equal(x, v) {
			return true, nil
		}
	}
	return false, nil
}

type funcNode struct {
	fn   string
	path Path
	arg  operand
}

func (n funcNode) eval(item Item) (bool, error) {
	v, exists := n.path.get(item)
	switch n.fn {
	case "attribute_exists":
		return exists, nil
	case "attribute_not_exists":
		return !exists, nil
	}
	arg, ok := n.arg.resolve(item)
	if !exists || !ok {
		return false, nil
	}
	switch n.fn {
	case "attribute_type":
		t, isS := arg.(*types.AttributeValueMemberS)
		if !isS || !validType[t.Value] {
			return false, fmt.Errorf("invalid attribute_type argument: %s", TypeName(arg))
		}
		return TypeName(v) == t.Value, nil
	case "begins_with":
		switch pv := v.(type) {
		case *types.AttributeValueMemberS:
			prefix, isS := arg.(*types.AttributeValueMemberS)
			return isS && strings.HasPrefix(pv.Value, prefix.Value), nil
		case *types.AttributeValueMemberB:
			prefix, isB := arg.(*types.AttributeValueMemberB)
			return isB && bytes.HasPrefix(pv.Value, prefix.Value), nil
		}
		return false, nil
	case "contains":
		switch pv := v.(type) {
		case *types.AttributeValueMemberS:
			sub, isS := arg.(*types.AttributeValueMemberS)
			return isS && strings.Contains(pv.Value, sub.Value), nil
		case *types.AttributeValueMemberL:
			for _, e := range pv.Value {
				if Equal(e, arg) {
					return true, nil
				}
			}
			return false, nil
		}
		if isSet(v) {
			return containsMember(setMembers(v), arg), nil
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown function %q", n.fn)
}

var validType = map[string]bool{
	"S": true, "SS": true, "N": true, "NS": true, "B": true, "BS": true,
	"BOOL": true, "NULL": true, "L": true, "M": true,
}

type operand interface {
	resolve(Item) (types.AttributeValue, bool)
}

type pathOperand struct{ p Path }

func (o pathOperand) resolve(item Item) (types.AttributeValue, bool) { return o.p.get(item) }

type valueOperand struct{ v types.AttributeValue }

func (o valueOperand) resolve(Item) (types.AttributeValue, bool) { return o.v, true }

type sizeOperand struct{ p Path }

func (o sizeOperand) resolve(item Item) (types.AttributeValue, bool) {
	v, ok := o.p.get(item)
	if !ok {
		return nil, false
	}
	n, ok := sizeOf(v)
	if !ok {
		return nil, false
	}
	return numberValue(n), true
}

var conditionFuncs = []string{"attribute_exists", "attribute_not_exists", "attribute_type", "begins_with", "contains"}

var comparators = map[string]bool{"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) orExpr() (condNode, error) {
	l, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		r, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		l = orNode{l, r}
	}
	return l, nil
}

func (p *parser) andExpr() (condNode, error) {
	l, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		r, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		l = andNode{l, r}
	}
	return l, nil
}

func (p *parser) notExpr() (condNode, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return notNode{x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (condNode, error) {
	if p.accept("(") {
		n, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		return n, p.expect(")")
	}
	for _, fn := range conditionFuncs {
		if p.isCall(fn) {
			return p.conditionFunc(fn)
		}
	}
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	switch t := p.peek(); {
	case t.kind == tokPunct && comparators[t.text]:
		p.next()
		right, err := p.operand()
		if err != nil {
			return nil, err
		}
		return cmpNode{op: t.text, l: left, r: right}, nil
	case p.acceptKeyword("BETWEEN"):
		lo, err := p.operand()
		if err != nil {
			return nil, err
		}
		if !p.acceptKeyword("AND") {
			return nil, p.unexpected("expected AND in BETWEEN")
		}
		hi, err := p.operand()
		if err != nil {
			return nil, err
		}
		return betweenNode{x: left, lo: lo, hi: hi}, nil
	case p.acceptKeyword("IN"):
		if err := p.expect("("); err != nil {
			return nil, err
		}
		n := inNode{x: left}
		for {
			o, err := p.operand()
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, o)
			if !p.accept(",") {
				break
			}
		}
		return n, p.expect(")")
	}
	return nil, p.unexpected("expected comparator, BETWEEN or IN")
}

func (p *parser) conditionFunc(fn string) (condNode, error) {
	p.next()
	if err := p.expect("("); err != nil {
		return nil, err
	}
	path, err := p.path()
	if err != nil {
		return nil, err
	}
	n := funcNode{fn: fn, path: path}
	if fn != "attribute_exists" && fn != "attribute_not_exists" {
		if err := p.expect(","); err != nil {
			return nil, err
		}
		if n.arg, err = p.operand(); err != nil {
			return nil, err
		}
	}
	return n, p.expect(")")
}

func (p *parser) operand() (operand, error) {
	if p.isCall("size") {
		p.next()
		p.next()
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		return sizeOperand{path}, p.expect(")")
	}
	if p.peek().kind == tokValue {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return valueOperand{v}, nil
	}
	path, err := p.path()
	if err != nil {
		return nil, err
	}
	return pathOperand{path}, nil
}
