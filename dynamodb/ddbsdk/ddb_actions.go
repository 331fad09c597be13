package ddbsdk

import (
	"encoding/base64"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// WriteAction is an operation that can take part in a TransactWrite:
// Put (including Create and Replace), Update, Delete and ConditionCheck.
type WriteAction interface {
	toTransactWriteItem(def table.TableDefinition) (types.TransactWriteItem, Item, error)
	claim() error
}

var (
	_ WriteAction = &Put{}
	_ WriteAction = &Update{}
	_ WriteAction = &Delete{}
	_ WriteAction = &ConditionCheck{}
)

// once makes an operation single-use.
type once struct {
	used atomic.Bool
}

func (o *once) claim() error {
	if !o.used.CompareAndSwap(false, true) {
		return ddberr.Validationf("operation already executed")
	}
	return nil
}

// keyID identifies an item by its rendered key attributes, for duplicate detection.
func keyID(key Item) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte('=')
		switch v := key[name].(type) {
		case *types.AttributeValueMemberS:
			sb.WriteString("S:" + v.Value)
		case *types.AttributeValueMemberN:
			sb.WriteString("N:" + v.Value)
		case *types.AttributeValueMemberB:
			sb.WriteString("B:" + base64.StdEncoding.EncodeToString(v.Value))
		default:
			sb.WriteString("?")
		}
		sb.WriteByte(0)
	}
	return sb.String()
}

func ptr[T any](v T) *T {
	return &v
}

func returnOnFailure(enabled bool) types.ReturnValuesOnConditionCheckFailure {
	if enabled {
		return types.ReturnValuesOnConditionCheckFailureAllOld
	}
	return ""
}
