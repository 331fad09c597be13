package eval

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CopyItem deep-copies an item so updates never alias stored values.
func CopyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: bytes.Clone(v.Value)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberBS:
		bs := make([][]byte, len(v.Value))
		for i, b := range v.Value {
			bs[i] = bytes.Clone(b)
		}
		return &types.AttributeValueMemberBS{Value: bs}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(v.Value))
		for i, e := range v.Value {
			l[i] = copyValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: CopyItem(v.Value)}
	}
	return av
}

// TypeName is the DynamoDB type descriptor of av: S, N, B, BOOL, NULL, SS,
// NS, BS, L or M.
func TypeName(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	}
	return fmt.Sprintf("%T", av)
}

func parseNumber(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return r, nil
}

func formatNumber(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	for prec := 1; prec < 38; prec++ {
		s := r.FloatString(prec)
		if back, ok := new(big.Rat).SetString(s); ok && back.Cmp(r) == 0 {
			return s
		}
	}
	return r.FloatString(38)
}

// Equal compares two attribute values structurally. Sets compare as sets and
// numbers compare numerically.
func Equal(a, b types.AttributeValue) bool {
	if TypeName(a) != TypeName(b) {
		return false
	}
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		return av.Value == b.(*types.AttributeValueMemberS).Value
	case *types.AttributeValueMemberN:
		c, ok := Compare(a, b)
		return ok && c == 0
	case *types.AttributeValueMemberB:
		return bytes.Equal(av.Value, b.(*types.AttributeValueMemberB).Value)
	case *types.AttributeValueMemberBOOL:
		return av.Value == b.(*types.AttributeValueMemberBOOL).Value
	case *types.AttributeValueMemberNULL:
		return true
	case *types.AttributeValueMemberSS, *types.AttributeValueMemberNS, *types.AttributeValueMemberBS:
		as, bs := setMembers(a), setMembers(b)
		if len(as) != len(bs) {
			return false
		}
		for _, x := range as {
			if !containsMember(bs, x) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		bl := b.(*types.AttributeValueMemberL).Value
		if len(av.Value) != len(bl) {
			return false
		}
		for i := range av.Value {
			if !Equal(av.Value[i], bl[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		bm := b.(*types.AttributeValueMemberM).Value
		if len(av.Value) != len(bm) {
			return false
		}
		for k, v := range av.Value {
			w, ok := bm[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two scalar values of the same type. ok is false for
// mismatched or unordered types.
func Compare(a, b types.AttributeValue) (c int, ok bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, isS := b.(*types.AttributeValueMemberS)
		if !isS {
			return 0, false
		}
		switch {
		case av.Value < bv.Value:
			return -1, true
		case av.Value > bv.Value:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberN:
		bv, isN := b.(*types.AttributeValueMemberN)
		if !isN {
			return 0, false
		}
		x, err := parseNumber(av.Value)
		if err != nil {
			return 0, false
		}
		y, err := parseNumber(bv.Value)
		if err != nil {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberB:
		bv, isB := b.(*types.AttributeValueMemberB)
		if !isB {
			return 0, false
		}
		return bytes.Compare(av.Value, bv.Value), true
	}
	return 0, false
}

// setMembers returns set elements as scalar attribute values.
func setMembers(av types.AttributeValue) []types.AttributeValue {
	var out []types.AttributeValue
	switch v := av.(type) {
	case *types.AttributeValueMemberSS:
		for _, s := range v.Value {
			out = append(out, &types.AttributeValueMemberS{Value: s})
		}
	case *types.AttributeValueMemberNS:
		for _, n := range v.Value {
			out = append(out, &types.AttributeValueMemberN{Value: n})
		}
	case *types.AttributeValueMemberBS:
		for _, b := range v.Value {
			out = append(out, &types.AttributeValueMemberB{Value: b})
		}
	}
	return out
}

func containsMember(set []types.AttributeValue, x types.AttributeValue) bool {
	for _, m := range set {
		if Equal(m, x) {
			return true
		}
	}
	return false
}

// buildSet reassembles scalar members into a set of the given set type.
func buildSet(setType string, members []types.AttributeValue) types.AttributeValue {
	switch setType {
	case "SS":
		ss := make([]string, len(members))
		for i, m := range members {
			ss[i] = m.(*types.AttributeValueMemberS).Value
		}
		return &types.AttributeValueMemberSS{Value: ss}
	case "NS":
		ns := make([]string, len(members))
		for i, m := range members {
			ns[i] = m.(*types.AttributeValueMemberN).Value
		}
		return &types.AttributeValueMemberNS{Value: ns}
	default:
		bs := make([][]byte, len(members))
		for i, m := range members {
			bs[i] = m.(*types.AttributeValueMemberB).Value
		}
		return &types.AttributeValueMemberBS{Value: bs}
	}
}

func isSet(av types.AttributeValue) bool {
	switch av.(type) {
	case *types.AttributeValueMemberSS, *types.AttributeValueMemberNS, *types.AttributeValueMemberBS:
		return true
	}
	return false
}

func sizeOf(av types.AttributeValue) (int, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return len(v.Value), true
	case *types.AttributeValueMemberB:
		return len(v.Value), true
	case *types.AttributeValueMemberSS:
		return len(v.Value), true
	case *types.AttributeValueMemberNS:
		return len(v.Value), true
	case *types.AttributeValueMemberBS:
		return len(v.Value), true
	case *types.AttributeValueMemberL:
		return len(v.Value), true
	case *types.AttributeValueMemberM:
		return len(v.Value), true
	}
	return 0, false
}

func numberValue(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

// arith adds or subtracts two N values.
func arith(a, b types.AttributeValue, subtract bool) (types.AttributeValue, error) {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("incorrect operand type for operator or function; operator: %s, operand types: %s, %s",
			map[bool]string{false: "+", true: "-"}[subtract], TypeName(a), TypeName(b))
	}
	x, err := parseNumber(an.Value)
	if err != nil {
		return nil, err
	}
	y, err := parseNumber(bn.Value)
	if err != nil {
		return nil, err
	}
	if subtract {
		x.Sub(x, y)
	} else {
		x.Add(x, y)
	}
	return &types.AttributeValueMemberN{Value: formatNumber(x)}, nil
}
