package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Input carries the placeholder maps sent alongside an expression.
type Input struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
}

type parser struct {
	toks []token
	pos  int
	in   Input
}

func newParser(src string, in Input) (*parser, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, in: in}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) accept(s string) bool {
	if p.isPunct(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(s string) error {
	if !p.accept(s) {
		return p.unexpected("expected " + strconv.Quote(s))
	}
	return nil
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

// isCall reports whether the next tokens are fn followed by an open paren.
func (p *parser) isCall(fn string) bool {
	t := p.peek()
	next := p.peekAt(1)
	return t.kind == tokIdent && strings.EqualFold(t.text, fn) && next.kind == tokPunct && next.text == "("
}

func (p *parser) unexpected(what string) error {
	return fmt.Errorf("syntax error: %s, got %s", what, p.peek())
}

func (p *parser) done() error {
	if p.peek().kind != tokEOF {
		return p.unexpected("expected end of expression")
	}
	return nil
}

func (p *parser) pathName() (string, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		if expr.IsReserved(t.text) {
			return "", fmt.Errorf("attribute name is a reserved keyword; reserved keyword: %s", t.text)
		}
		p.next()
		return t.text, nil
	case tokName:
		name, ok := p.in.Names[t.text]
		if !ok {
			return "", fmt.Errorf("an expression attribute name used in the document path is not defined; attribute name: %s", t.text)
		}
		p.next()
		return name, nil
	}
	return "", p.unexpected("expected attribute name")
}

func (p *parser) path() (Path, error) {
	name, err := p.pathName()
	if err != nil {
		return nil, err
	}
	out := Path{{name: name}}
	for {
		switch {
		case p.accept("."):
			name, err := p.pathName()
			if err != nil {
				return nil, err
			}
			out = append(out, pathElem{name: name})
		case p.accept("["):
			t := p.peek()
			if t.kind != tokNumber {
				return nil, p.unexpected("expected list index")
			}
			p.next()
			idx, err := strconv.Atoi(t.text)
			if err != nil {
				return nil, fmt.Errorf("invalid list index %q", t.text)
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			out = append(out, pathElem{index: idx, isIndex: true})
		default:
			return out, nil
		}
	}
}

func (p *parser) value() (types.AttributeValue, error) {
	t := p.peek()
	if t.kind != tokValue {
		return nil, p.unexpected("expected expression attribute value")
	}
	p.next()
	v, ok := p.in.Values[t.text]
	if !ok {
		return nil, fmt.Errorf("an expression attribute value used in expression is not defined; attribute value: %s", t.text)
	}
	return v, nil
}
