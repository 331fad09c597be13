package expr

import (
	"fmt"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/constraints"
)

type number interface {
	constraints.Integer | constraints.Float
}

// SetMember is a type that can be stored in a string, number or binary set.
type SetMember interface {
	~string | ~[]byte | number
}

type actionKind int

const (
	actSet actionKind = iota
	actSetIfNotExists
	actIncrement
	actDecrement
	actAppend
	actRemove
	actAdd
	actDelete
)

func (k actionKind) clause() string {
	switch k {
	case actRemove:
		return "REMOVE"
	case actAdd:
		return "ADD"
	case actDelete:
		return "DELETE"
	default:
		return "SET"
	}
}

// Action is one mutation of an update expression.
type Action struct {
	kind  actionKind
	name  string
	value types.AttributeValue
	err   error
}

// Name returns the attribute the action changes.
func (a Action) Name() string { return a.name }

// Idempotent reports whether applying the action twice has the same effect
// as applying it once.
func (a Action) Idempotent() bool {
	switch a.kind {
	case actIncrement, actDecrement, actAppend:
		return false
	case actAdd:
		return isSet(a.value)
	}
	return true
}

func newAction(kind actionKind, name string, v any) Action {
	av, err := marshalValue(v)
	return Action{kind: kind, name: name, value: av, err: err}
}

// Set assigns v regardless of any existing value.
func Set(name string, v any) Action {
	return newAction(actSet, name, v)
}

// SetIfNotExists assigns v only if the attribute is absent.
func SetIfNotExists(name string, v any) Action {
	return newAction(actSetIfNotExists, name, v)
}

// Increment adds by to an existing number attribute. Use AddNumber when the
// attribute may be absent.
func Increment[N number](name string, by N) Action {
	return newAction(actIncrement, name, by)
}

// Decrement subtracts by from a number attribute that must exist.
func Decrement[N number](name string, by N) Action {
	return newAction(actDecrement, name, by)
}

// AppendToList appends the elements of list, creating the list if absent.
func AppendToList(name string, list any) Action {
	a := newAction(actAppend, name, list)
	if a.err == nil {
		if _, ok := a.value.(*types.AttributeValueMemberL); !ok {
			a.err = fmt.Errorf("append to %q: %T is not a list", name, list)
		}
	}
	return a
}

// Remove deletes an attribute from the item.
func Remove(name string) Action {
	return Action{kind: actRemove, name: name}
}

// AddNumber adds n to a number attribute, treating an absent attribute as 0.
func AddNumber[N number](name string, n N) Action {
	return newAction(actAdd, name, n)
}

// AddToSet adds members to a set attribute, creating it if absent.
func AddToSet[T SetMember](name string, members ...T) Action {
	av, err := setValue(members)
	return Action{kind: actAdd, name: name, value: av, err: err}
}

// DeleteFromSet removes members from a set attribute.
func DeleteFromSet[T SetMember](name string, members ...T) Action {
	av, err := setValue(members)
	return Action{kind: actDelete, name: name, value: av, err: err}
}

func setValue[T SetMember](members []T) (types.AttributeValue, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("set cannot be empty")
	}
	var (
		ss   []string
		ns   []string
		bs   [][]byte
		seen = map[string]bool{}
	)
	for _, m := range members {
		av, err := attributevalue.Marshal(m)
		if err != nil {
			return nil, err
		}
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			if !seen["S"+v.Value] {
				seen["S"+v.Value] = true
				ss = append(ss, v.Value)
			}
		case *types.AttributeValueMemberN:
			if !seen["N"+v.Value] {
				seen["N"+v.Value] = true
				ns = append(ns, v.Value)
			}
		case *types.AttributeValueMemberB:
			if !seen["B"+string(v.Value)] {
				seen["B"+string(v.Value)] = true
				bs = append(bs, v.Value)
			}
		default:
			return nil, fmt.Errorf("%T cannot be a set member", m)
		}
	}
	switch {
	case ss != nil:
		return &types.AttributeValueMemberSS{Value: ss}, nil
	case ns != nil:
		return &types.AttributeValueMemberNS{Value: ns}, nil
	default:
		return &types.AttributeValueMemberBS{Value: bs}, nil
	}
}

func isSet(av types.AttributeValue) bool {
	switch av.(type) {
	case *types.AttributeValueMemberSS, *types.AttributeValueMemberNS, *types.AttributeValueMemberBS:
		return true
	}
	return false
}

// Update is an ordered list of actions.
type Update struct {
	actions []Action
}

// NewUpdate groups actions into one update expression.
func NewUpdate(actions ...Action) Update {
	return Update{actions: append([]Action(nil), actions...)}
}

// With returns a copy of u with more actions.
func (u Update) With(actions ...Action) Update {
	out := make([]Action, 0, len(u.actions)+len(actions))
	out = append(out, u.actions...)
	return Update{actions: append(out, actions...)}
}

func (u Update) Actions() []Action {
	return append([]Action(nil), u.actions...)
}

func (u Update) IsEmpty() bool {
	return len(u.actions) == 0
}

var clauseOrder = []string{"SET", "REMOVE", "ADD", "DELETE"}

func (u Update) render(b *Builder) string {
	if len(u.actions) == 0 {
		b.fail(ddberr.Validationf("update has no actions"))
		return ""
	}
	touched := map[string]bool{}
	for _, a := range u.actions {
		if a.err != nil {
			b.fail(ddberr.Validationf("update %q: %w", a.name, a.err))
			return ""
		}
		if touched[a.name] {
			b.fail(ddberr.Validationf("update touches %q more than once", a.name))
			return ""
		}
		touched[a.name] = true
	}

	clauses := map[string][]string{}
	for _, a := range u.actions {
		clause := a.kind.clause()
		clauses[clause] = append(clauses[clause], a.render(b))
	}
	var parts []string
	for _, clause := range clauseOrder {
		if len(clauses[clause]) == 0 {
			continue
		}
		parts = append(parts, clause+" "+strings.Join(clauses[clause], ", "))
	}
	return strings.Join(parts, " ")
}

func (a Action) render(b *Builder) string {
	n := b.name(prefixUpdate, a.name)
	switch a.kind {
	case actSet:
		return n + " = " + b.attributeValue(prefixUpdate, a.value)
	case actSetIfNotExists:
		return n + " = if_not_exists(" + n + ", " + b.attributeValue(prefixUpdate, a.value) + ")"
	case actIncrement:
		return n + " = " + n + " + " + b.attributeValue(prefixUpdate, a.value)
	case actDecrement:
		return n + " = " + n + " - " + b.attributeValue(prefixUpdate, a.value)
	case actAppend:
		empty := b.attributeValue(prefixUpdate, &types.AttributeValueMemberL{Value: []types.AttributeValue{}})
		return n + " = list_append(if_not_exists(" + n + ", " + empty + "), " + b.attributeValue(prefixUpdate, a.value) + ")"
	case actRemove:
		return n
	default:
		return n + " " + b.attributeValue(prefixUpdate, a.value)
	}
}
