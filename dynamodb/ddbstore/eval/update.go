package eval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update is a parsed update expression.
type Update struct {
	sets    []setAction
	removes []Path
	adds    []setAction
	deletes []setAction
}

type setAction struct {
	path Path
	val  valueExpr
}

type valueExpr interface {
	value(Item) (types.AttributeValue, error)
}

type pathValue struct{ p Path }

func (v pathValue) value(item Item) (types.AttributeValue, error) {
	av, ok := v.p.get(item)
	if !ok {
		return nil, fmt.Errorf("the provided expression refers to an attribute that does not exist in the item: %s", v.p)
	}
	return av, nil
}

type literalValue struct{ v types.AttributeValue }

func (v literalValue) value(Item) (types.AttributeValue, error) { return v.v, nil }

type ifNotExists struct {
	p   Path
	def valueExpr
}

func (v ifNotExists) value(item Item) (types.AttributeValue, error) {
	if av, ok := v.p.get(item); ok {
		return av, nil
	}
	return v.def.value(item)
}

type listAppend struct{ a, b valueExpr }

func (v listAppend) value(item Item) (types.AttributeValue, error) {
	a, err := v.a.value(item)
	if err != nil {
		return nil, err
	}
	b, err := v.b.value(item)
	if err != nil {
		return nil, err
	}
	al, ok1 := a.(*types.AttributeValueMemberL)
	bl, ok2 := b.(*types.AttributeValueMemberL)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("incorrect operand type for operator or function; operator or function: list_append, operand types: %s, %s",
			TypeName(a), TypeName(b))
	}
	out := make([]types.AttributeValue, 0, len(al.Value)+len(bl.Value))
	out = append(out, al.Value...)
	out = append(out, bl.Value...)
	return &types.AttributeValueMemberL{Value: out}, nil
}

type arithValue struct {
	l, r     valueExpr
	subtract bool
}

func (v arithValue) value(item Item) (types.AttributeValue, error) {
	l, err := v.l.value(item)
	if err != nil {
		return nil, err
	}
	r, err := v.r.value(item)
	if err != nil {
		return nil, err
	}
	return arith(l, r, v.subtract)
}

// ParseUpdate parses an update expression.
func ParseUpdate(src string, in Input) (*Update, error) {
	p, err := newParser(src, in)
	if err != nil {
		return nil, err
	}
	u := &Update{}
	seen := map[string]bool{}
	for p.peek().kind != tokEOF {
		t := p.peek()
		if t.kind != tokIdent {
			return nil, p.unexpected("expected SET, REMOVE, ADD or DELETE")
		}
		p.next()
		clause := strings.ToUpper(t.text)
		if seen[clause] {
			return nil, fmt.Errorf("syntax error: the %s section can only be used once in an update expression", clause)
		}
		seen[clause] = true
		for {
			switch clause {
			case "SET":
				path, err := p.path()
				if err != nil {
					return nil, err
				}
				if err := p.expect("="); err != nil {
					return nil, err
				}
				val, err := p.setValue()
				if err != nil {
					return nil, err
				}
				u.sets = append(u.sets, setAction{path, val})
			case "REMOVE":
				path, err := p.path()
				if err != nil {
					return nil, err
				}
				u.removes = append(u.removes, path)
			case "ADD", "DELETE":
				path, err := p.path()
				if err != nil {
					return nil, err
				}
				v, err := p.value()
				if err != nil {
					return nil, err
				}
				if clause == "ADD" {
					u.adds = append(u.adds, setAction{path, literalValue{v}})
				} else {
					u.deletes = append(u.deletes, setAction{path, literalValue{v}})
				}
			default:
				p.pos--
				return nil, p.unexpected("expected SET, REMOVE, ADD or DELETE")
			}
			if !p.accept(",") {
				break
			}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("syntax error: empty update expression")
	}
	if err := u.checkOverlap(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Update) paths() []Path {
	var out []Path
	for _, s := range u.sets {
		out = append(out, s.path)
	}
	out = append(out, u.removes...)
	for _, a := range u.adds {
		out = append(out, a.path)
	}
	for _, d := range u.deletes {
		out = append(out, d.path)
	}
	return out
}

func (u *Update) checkOverlap() error {
	paths := u.paths()
	for i := range paths {
		for j := i + 1; j < len(paths); j++ {
			if paths[i].overlaps(paths[j]) {
				return fmt.Errorf("invalid update expression: two document paths overlap with each other: [%s, %s]", paths[i], paths[j])
			}
		}
	}
	return nil
}

// Attributes lists the top-level attributes the update touches, sorted.
func (u *Update) Attributes() []string {
	set := map[string]bool{}
	for _, p := range u.paths() {
		set[p.Root()] = true
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Apply returns a copy of item with the update applied. Every SET value is
// computed from item as it was before the update.
func (u *Update) Apply(item Item) (Item, error) {
	vals := make([]types.AttributeValue, len(u.sets))
	for i, s := range u.sets {
		v, err := s.val.value(item)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	out := CopyItem(item)
	if out == nil {
		out = Item{}
	}
	for i, s := range u.sets {
		if err := s.path.set(out, copyValue(vals[i])); err != nil {
			return nil, err
		}
	}

	removes := append([]Path(nil), u.removes...)
	// Later list elements go first so earlier indexes stay valid.
	sort.SliceStable(removes, func(i, j int) bool {
		a, b := removes[i], removes[j]
		pa, pb := a[:len(a)-1].String(), b[:len(b)-1].String()
		if pa != pb {
			return pa < pb
		}
		return a[len(a)-1].index > b[len(b)-1].index
	})
	for _, p := range removes {
		p.remove(out)
	}

	for _, a := range u.adds {
		v, _ := a.val.value(out)
		if err := add(out, a.path, v); err != nil {
			return nil, err
		}
	}
	for _, d := range u.deletes {
		v, _ := d.val.value(out)
		if err := del(out, d.path, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func add(doc Item, p Path, v types.AttributeValue) error {
	if TypeName(v) != "N" && !isSet(v) {
		return fmt.Errorf("incorrect operand type for operator or function; operator: ADD, operand type: %s", TypeName(v))
	}
	cur, ok := p.get(doc)
	if !ok {
		return p.set(doc, copyValue(v))
	}
	if TypeName(cur) != TypeName(v) {
		return fmt.Errorf("an operand in the update expression has an incorrect data type: ADD %s to %s", TypeName(v), TypeName(cur))
	}
	if TypeName(v) == "N" {
		sum, err := arith(cur, v, false)
		if err != nil {
			return err
		}
		return p.set(doc, sum)
	}
	members := setMembers(cur)
	for _, m := range setMembers(v) {
		if !containsMember(members, m) {
			members = append(members, m)
		}
	}
	return p.set(doc, buildSet(TypeName(cur), members))
}

func del(doc Item, p Path, v types.AttributeValue) error {
	if !isSet(v) {
		return fmt.Errorf("incorrect operand type for operator or function; operator: DELETE, operand type: %s", TypeName(v))
	}
	cur, ok := p.get(doc)
	if !ok {
		return nil
	}
	if TypeName(cur) != TypeName(v) {
		return fmt.Errorf("an operand in the update expression has an incorrect data type: DELETE %s from %s", TypeName(v), TypeName(cur))
	}
	drop := setMembers(v)
	var keep []types.AttributeValue
	for _, m := range setMembers(cur) {
		if !containsMember(drop, m) {
			keep = append(keep, m)
		}
	}
	if len(keep) == 0 {
		p.remove(doc)
		return nil
	}
	return p.set(doc, buildSet(TypeName(cur), keep))
}

func (p *parser) setValue() (valueExpr, error) {
	l, err := p.setOperand()
	if err != nil {
		return nil, err
	}
	switch {
	case p.accept("+"):
		r, err := p.setOperand()
		if err != nil {
			return nil, err
		}
		return arithValue{l: l, r: r}, nil
	case p.accept("-"):
		r, err := p.setOperand()
		if err != nil {
			return nil, err
		}
		return arithValue{l: l, r: r, subtract: true}, nil
	}
	return l, nil
}

func (p *parser) setOperand() (valueExpr, error) {
	switch {
	case p.isCall("if_not_exists"):
		p.next()
		p.next()
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		def, err := p.setOperand()
		if err != nil {
			return nil, err
		}
		return ifNotExists{p: path, def: def}, p.expect(")")
	case p.isCall("list_append"):
		p.next()
		p.next()
		a, err := p.setOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		b, err := p.setOperand()
		if err != nil {
			return nil, err
		}
		return listAppend{a: a, b: b}, p.expect(")")
	case p.peek().kind == tokValue:
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return literalValue{v}, nil
	}
	path, err := p.path()
	if err != nil {
		return nil, err
	}
	return pathValue{path}, nil
}
