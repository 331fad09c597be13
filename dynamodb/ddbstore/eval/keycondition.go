package eval

import (
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyCondition is a parsed key condition: an equality on the partition key and
// at most one condition on the sort key.
type KeyCondition struct {
	Partition types.AttributeValue
	sort      condNode
}

// ParseKeyCondition parses src and checks it only references the keys of def
// in the forms a key condition allows.
func ParseKeyCondition(src string, in Input, def table.PrimaryKeyDefinition) (*KeyCondition, error) {
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

	var parts []condNode
	if and, ok := root.(andNode); ok {
		parts = []condNode{and.l, and.r}
	} else {
		parts = []condNode{root}
	}
	kc := &KeyCondition{}
	for _, part := range parts {
		if v, ok := partitionEquality(part, def); ok && kc.Partition == nil {
			if err := checkKind(def.PartitionKey, v); err != nil {
				return nil, err
			}
			kc.Partition = v
			continue
		}
		if kc.sort != nil {
			return nil, fmt.Errorf("invalid key condition: at most one sort key condition is allowed")
		}
		if err := checkSortCondition(part, def); err != nil {
			return nil, err
		}
		kc.sort = part
	}
	if kc.Partition == nil {
		return nil, fmt.Errorf("invalid key condition: missing equality on partition key %q", def.PartitionKey.Name)
	}
	return kc, nil
}

// MatchSort reports whether item satisfies the sort key condition, if any.
func (k *KeyCondition) MatchSort(item Item) (bool, error) {
	if k.sort == nil {
		return true, nil
	}
	return k.sort.eval(item)
}

func partitionEquality(n condNode, def table.PrimaryKeyDefinition) (types.AttributeValue, bool) {
	cmp, ok := n.(cmpNode)
	if !ok || cmp.op != "=" {
		return nil, false
	}
	path, pok := cmp.l.(pathOperand)
	val, vok := cmp.r.(valueOperand)
	if !pok || !vok {
		return nil, false
	}
	if !path.p.IsTopLevel() || path.p.Root() != def.PartitionKey.Name {
		return nil, false
	}
	return val.v, true
}

func checkSortCondition(n condNode, def table.PrimaryKeyDefinition) error {
	isSortKey := func(o operand) bool {
		po, ok := o.(pathOperand)
		return ok && def.HasSortKey() && po.p.IsTopLevel() && po.p.Root() == def.SortKey.Name
	}
	valueOf := func(o operand) (types.AttributeValue, error) {
		vo, ok := o.(valueOperand)
		if !ok {
			return nil, fmt.Errorf("invalid key condition: sort key must be compared to a value")
		}
		return vo.v, checkKind(def.SortKey, vo.v)
	}
	switch c := n.(type) {
	case cmpNode:
		if c.op == "<>" || !isSortKey(c.l) {
			break
		}
		_, err := valueOf(c.r)
		return err
	case betweenNode:
		if !isSortKey(c.x) {
			break
		}
		lo, err := valueOf(c.lo)
		if err != nil {
			return err
		}
		hi, err := valueOf(c.hi)
		if err != nil {
			return err
		}
		if cmp, _ := Compare(lo, hi); cmp > 0 {
			return fmt.Errorf("invalid key condition: BETWEEN lower bound is greater than upper bound")
		}
		return nil
	case funcNode:
		if c.fn != "begins_with" || !def.HasSortKey() || !c.path.IsTopLevel() || c.path.Root() != def.SortKey.Name {
			break
		}
		if def.SortKey.Kind == table.KeyKindN {
			return fmt.Errorf("invalid key condition: begins_with is not supported on number sort key %q", def.SortKey.Name)
		}
		_, err := valueOf(c.arg)
		return err
	}
	return fmt.Errorf("invalid key condition: unsupported condition on key attributes of %s", keyNames(def))
}

func checkKind(def table.KeyDef, v types.AttributeValue) error {
	if TypeName(v) != string(def.Kind) {
		return fmt.Errorf("one or more parameter values were invalid: condition parameter type does not match schema type for key %q: want %s, got %s",
			def.Name, def.Kind, TypeName(v))
	}
	return nil
}

func keyNames(def table.PrimaryKeyDefinition) string {
	if def.HasSortKey() {
		return def.PartitionKey.Name + "/" + def.SortKey.Name
	}
	return def.PartitionKey.Name
}
