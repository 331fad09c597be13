package eval

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Projection is a parsed projection expression.
type Projection struct {
	paths []Path
}

func ParseProjection(src string, names map[string]string) (*Projection, error) {
	p, err := newParser(src, Input{Names: names})
	if err != nil {
		return nil, err
	}
	proj := &Projection{}
	for {
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		proj.paths = append(proj.paths, path)
		if !p.accept(",") {
			break
		}
	}
	if err := p.done(); err != nil {
		return nil, err
	}
	return proj, nil
}

// Apply copies the projected attributes of item into a new item. Nested
// paths keep their enclosing maps; list elements keep their relative order.
func (pr *Projection) Apply(item Item) Item {
	out := Item{}
	for _, p := range pr.paths {
		v, ok := p.get(item)
		if !ok {
			continue
		}
		place(out, p, copyValue(v))
	}
	return out
}

func place(out Item, p Path, v types.AttributeValue) {
	if p.IsTopLevel() {
		out[p.Root()] = v
		return
	}
	var container types.AttributeValue
	if existing, ok := out[p.Root()]; ok {
		container = existing
	} else {
		container = emptyContainer(p[1])
		out[p.Root()] = container
	}
	for i, e := range p[1:] {
		last := i == len(p)-2
		switch c := container.(type) {
		case *types.AttributeValueMemberM:
			if last {
				c.Value[e.name] = v
				return
			}
			nextC, ok := c.Value[e.name]
			if !ok {
				nextC = emptyContainer(p[i+2])
				c.Value[e.name] = nextC
			}
			container = nextC
		case *types.AttributeValueMemberL:
			// Projected list elements are appended in the order requested.
			if last {
				c.Value = append(c.Value, v)
				return
			}
			nextC := emptyContainer(p[i+2])
			c.Value = append(c.Value, nextC)
			container = nextC
		default:
			return
		}
	}
}

func emptyContainer(next pathElem) types.AttributeValue {
	if next.isIndex {
		return &types.AttributeValueMemberL{}
	}
	return &types.AttributeValueMemberM{Value: Item{}}
}

// Project applies an optional projection expression to items in place.
func Project(src *string, names map[string]string, items ...Item) error {
	if src == nil || strings.TrimSpace(*src) == "" {
		return nil
	}
	pr, err := ParseProjection(*src, names)
	if err != nil {
		return fmt.Errorf("invalid projection expression: %w", err)
	}
	for i, item := range items {
		if item == nil {
			continue
		}
		projected := pr.Apply(item)
		for k := range item {
			delete(item, k)
		}
		for k, v := range projected {
			items[i][k] = v
		}
	}
	return nil
}
