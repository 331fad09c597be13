package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Item = map[string]types.AttributeValue

type pathElem struct {
	name    string
	index   int
	isIndex bool
}

// Path is a resolved document path such as a.b[2].c.
type Path []pathElem

func (p Path) String() string {
	var sb strings.Builder
	for i, e := range p {
		if e.isIndex {
			sb.WriteString("[" + strconv.Itoa(e.index) + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(e.name)
	}
	return sb.String()
}

// Root is the top-level attribute the path starts at.
func (p Path) Root() string { return p[0].name }

// IsTopLevel reports whether the path names a top-level attribute.
func (p Path) IsTopLevel() bool { return len(p) == 1 }

func (p Path) get(doc Item) (types.AttributeValue, bool) {
	cur, ok := doc[p[0].name]
	if !ok {
		return nil, false
	}
	for _, e := range p[1:] {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			if e.isIndex {
				return nil, false
			}
			if cur, ok = v.Value[e.name]; !ok {
				return nil, false
			}
		case *types.AttributeValueMemberL:
			if !e.isIndex || e.index >= len(v.Value) {
				return nil, false
			}
			cur = v.Value[e.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// parent resolves every element but the last. The parent must exist.
func (p Path) parent(doc Item) (types.AttributeValue, error) {
	if len(p) == 1 {
		return nil, nil
	}
	v, ok := p[:len(p)-1].get(doc)
	if !ok {
		return nil, fmt.Errorf("the document path %s is invalid for update", p)
	}
	return v, nil
}

func (p Path) set(doc Item, v types.AttributeValue) error {
	parent, err := p.parent(doc)
	if err != nil {
		return err
	}
	last := p[len(p)-1]
	switch pv := parent.(type) {
	case nil:
		doc[last.name] = v
	case *types.AttributeValueMemberM:
		if last.isIndex {
			return fmt.Errorf("the document path %s is invalid for update: not a list", p)
		}
		if pv.Value == nil {
			pv.Value = Item{}
		}
		pv.Value[last.name] = v
	case *types.AttributeValueMemberL:
		if !last.isIndex {
			return fmt.Errorf("the document path %s is invalid for update: not a map", p)
		}
		if last.index < len(pv.Value) {
			pv.Value[last.index] = v
		} else {
			pv.Value = append(pv.Value, v)
		}
	default:
		return fmt.Errorf("the document path %s is invalid for update", p)
	}
	return nil
}

func (p Path) remove(doc Item) {
	if len(p) == 1 {
		delete(doc, p[0].name)
		return
	}
	parent, ok := p[:len(p)-1].get(doc)
	if !ok {
		return
	}
	last := p[len(p)-1]
	switch pv := parent.(type) {
	case *types.AttributeValueMemberM:
		if !last.isIndex {
			delete(pv.Value, last.name)
		}
	case *types.AttributeValueMemberL:
		if last.isIndex && last.index < len(pv.Value) {
			pv.Value = append(pv.Value[:last.index:last.index], pv.Value[last.index+1:]...)
		}
	}
}

// overlaps reports whether one path is a prefix of the other.
func (p Path) overlaps(q Path) bool {
	n := min(len(p), len(q))
	for i := 0; i < n; i++ {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}
