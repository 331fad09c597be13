package ddbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key encoding for BadgerDB that preserves DynamoDB key ordering.
//
// Table entries:  [table] 0x00 0x00 [partition] 0x00 [sort]
// Index entries:  [table] 0x00 [index] 0x00 [partition] 0x00 [sort] 0x00 [table entry suffix]
//
// Each component is escaped so 0x00 only ever appears as a separator. Index
// entries end with the table entry suffix, which keeps them unique when
// several items share index key values. Their value is the table entry key.

const keySeparator byte = 0x00

const (
	keyTypeString byte = 'S'
	keyTypeNumber byte = 'N'
	keyTypeBinary byte = 'B'
)

func tablePrefix(tableName string) []byte {
	return indexPrefix(tableName, "")
}

func indexPrefix(tableName, indexName string) []byte {
	var buf bytes.Buffer
	buf.Write(escapeBytes([]byte(tableName)))
	buf.WriteByte(keySeparator)
	buf.Write(escapeBytes([]byte(indexName)))
	buf.WriteByte(keySeparator)
	return buf.Bytes()
}

// keySuffix encodes the key values of def found in item.
func keySuffix(def table.PrimaryKeyDefinition, item map[string]types.AttributeValue) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeKeyValue(&buf, def.PartitionKey, item[def.PartitionKey.Name]); err != nil {
		return nil, err
	}
	buf.WriteByte(keySeparator)
	if def.HasSortKey() {
		if err := writeKeyValue(&buf, def.SortKey, item[def.SortKey.Name]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func partitionPrefix(prefix []byte, def table.KeyDef, v types.AttributeValue) ([]byte, error) {
	buf := bytes.NewBuffer(append([]byte(nil), prefix...))
	if err := writeKeyValue(buf, def, v); err != nil {
		return nil, err
	}
	buf.WriteByte(keySeparator)
	return buf.Bytes(), nil
}

func writeKeyValue(buf *bytes.Buffer, def table.KeyDef, av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		if def.Kind != table.KeyKindS {
			break
		}
		buf.WriteByte(keyTypeString)
		buf.Write(escapeBytes([]byte(v.Value)))
		return nil
	case *types.AttributeValueMemberN:
		if def.Kind != table.KeyKindN {
			break
		}
		encoded, err := encodeNumber(v.Value)
		if err != nil {
			return err
		}
		buf.WriteByte(keyTypeNumber)
		buf.Write(escapeBytes(encoded))
		return nil
	case *types.AttributeValueMemberB:
		if def.Kind != table.KeyKindB {
			break
		}
		buf.WriteByte(keyTypeBinary)
		buf.Write(escapeBytes(v.Value))
		return nil
	case nil:
		return fmt.Errorf("missing key attribute %q", def.Name)
	}
	return fmt.Errorf("key attribute %q: expected type %s, got %T", def.Name, def.Kind, av)
}

// encodeNumber encodes a number string so byte order matches numeric order.
// Format: [sign byte][big-endian float64 bits]. Positive numbers flip the
// sign bit, negative numbers invert every bit.
func encodeNumber(numStr string) ([]byte, error) {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", numStr, err)
	}
	if f == 0 {
		f = 0 // -0 and 0 are the same key
	}

	bits := math.Float64bits(f)
	buf := make([]byte, 9)
	if f >= 0 {
		buf[0] = 0x80
		bits ^= 1 << 63
	} else {
		buf[0] = 0x7F
		bits = ^bits
	}
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf, nil
}

// escapeBytes escapes 0x00 as 0x01 0x01 and 0x01 as 0x01 0x02. The mapping
// preserves byte order.
func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.WriteByte(0x01)
			buf.WriteByte(0x01)
		case 0x01:
			buf.WriteByte(0x01)
			buf.WriteByte(0x02)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// storedValue is the JSON form of an attribute value. T names the type so
// empty lists, maps and sets survive a round trip.
type storedValue struct {
	T    string                 `json:"t"`
	S    string                 `json:"s,omitempty"`
	B    []byte                 `json:"b,omitempty"`
	Bool bool                   `json:"bool,omitempty"`
	SS   []string               `json:"ss,omitempty"`
	BS   [][]byte               `json:"bs,omitempty"`
	L    []storedValue          `json:"l,omitempty"`
	M    map[string]storedValue `json:"m,omitempty"`
}

func serializeItem(item map[string]types.AttributeValue) ([]byte, error) {
	out := make(map[string]storedValue, len(item))
	for k, v := range item {
		sv, err := toStored(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = sv
	}
	return json.Marshal(out)
}

func deserializeItem(data []byte) (map[string]types.AttributeValue, error) {
	var stored map[string]storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	out := make(map[string]types.AttributeValue, len(stored))
	for k, v := range stored {
		av, err := fromStored(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func toStored(av types.AttributeValue) (storedValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return storedValue{T: "S", S: v.Value}, nil
	case *types.AttributeValueMemberN:
		return storedValue{T: "N", S: v.Value}, nil
	case *types.AttributeValueMemberB:
		return storedValue{T: "B", B: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return storedValue{T: "BOOL", Bool: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return storedValue{T: "NULL", Bool: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return storedValue{T: "SS", SS: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return storedValue{T: "NS", SS: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return storedValue{T: "BS", BS: v.Value}, nil
	case *types.AttributeValueMemberL:
		l := make([]storedValue, len(v.Value))
		for i, e := range v.Value {
			sv, err := toStored(e)
			if err != nil {
				return storedValue{}, err
			}
			l[i] = sv
		}
		return storedValue{T: "L", L: l}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]storedValue, len(v.Value))
		for k, e := range v.Value {
			sv, err := toStored(e)
			if err != nil {
				return storedValue{}, err
			}
			m[k] = sv
		}
		return storedValue{T: "M", M: m}, nil
	}
	return storedValue{}, fmt.Errorf("unsupported attribute value type %T", av)
}

func fromStored(sv storedValue) (types.AttributeValue, error) {
	switch sv.T {
	case "S":
		return &types.AttributeValueMemberS{Value: sv.S}, nil
	case "N":
		return &types.AttributeValueMemberN{Value: sv.S}, nil
	case "B":
		return &types.AttributeValueMemberB{Value: sv.B}, nil
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: sv.Bool}, nil
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: sv.Bool}, nil
	case "SS":
		return &types.AttributeValueMemberSS{Value: sv.SS}, nil
	case "NS":
		return &types.AttributeValueMemberNS{Value: sv.SS}, nil
	case "BS":
		return &types.AttributeValueMemberBS{Value: sv.BS}, nil
	case "L":
		var l []types.AttributeValue
		for _, e := range sv.L {
			av, err := fromStored(e)
			if err != nil {
				return nil, err
			}
			l = append(l, av)
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	case "M":
		m := make(map[string]types.AttributeValue, len(sv.M))
		for k, e := range sv.M {
			av, err := fromStored(e)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, fmt.Errorf("unsupported stored type %q", sv.T)
}
