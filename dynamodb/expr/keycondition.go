package expr

import (
	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyCondition selects one partition and optionally narrows it by sort key.
type KeyCondition struct {
	Partition any
	// Strategy is nil for the whole partition.
	Strategy SortKeyStrategy
}

// Key selects the items of a partition whose sort key matches strategy.
func Key(partition any, strategy SortKeyStrategy) KeyCondition {
	return KeyCondition{Partition: partition, Strategy: strategy}
}

// PartitionOnly selects every item of a partition.
func PartitionOnly(partition any) KeyCondition {
	return KeyCondition{Partition: partition}
}

func (kc KeyCondition) render(b *Builder, def table.PrimaryKeyDefinition) string {
	if kc.Partition == nil {
		b.fail(ddberr.Validationf("key condition needs a partition value"))
		return ""
	}
	s := b.name(prefixKey, def.PartitionKey.Name) + " = " + keyValue(b, def.PartitionKey, kc.Partition)
	if kc.Strategy == nil {
		return s
	}
	if !def.HasSortKey() {
		b.fail(ddberr.Validationf("sort key condition on a key without sort key (partition %q)", def.PartitionKey.Name))
		return ""
	}
	sk := b.name(prefixKey, def.SortKey.Name)
	return s + " AND " + kc.Strategy(sk, func(v any) string {
		return keyValue(b, def.SortKey, v)
	})
}

func keyValue(b *Builder, def table.KeyDef, v any) string {
	av, err := def.AttributeValue(v)
	if err != nil {
		b.fail(err)
		av = &types.AttributeValueMemberNULL{Value: true}
	}
	return b.attributeValue(prefixKey, av)
}

// SortKeyStrategy renders the sort key part of a key condition. It receives
// the sort key name token and a function allocating value tokens.
type SortKeyStrategy func(sk string, value func(any) string) string

// Equals returns items where the sort key equals the provided value.
func Equals[T any](v T) SortKeyStrategy {
	return func(sk string, value func(any) string) string {
		return sk + " = " + value(v)
	}
}

// BeginsWith returns items where the sort key starts with the provided prefix.
func BeginsWith(prefix string) SortKeyStrategy {
	return func(sk string, value func(any) string) string {
		return "begins_with(" + sk + ", " + value(prefix) + ")"
	}
}

// Between returns items where the sort key is between start and end (inclusive).
func Between[T any](start, end T) SortKeyStrategy {
	return func(sk string, value func(any) string) string {
		lo := value(start)
		return sk + " BETWEEN " + lo + " AND " + value(end)
	}
}

// GreaterThan returns items where the sort key is greater than the provided value.
func GreaterThan[T any](v T) SortKeyStrategy {
	return compare(">", v)
}

// GreaterThanEqual returns items where the sort key is greater than or equal to the provided value.
func GreaterThanEqual[T any](v T) SortKeyStrategy {
	return compare(">=", v)
}

// LessThan returns items where the sort key is less than the provided value.
func LessThan[T any](v T) SortKeyStrategy {
	return compare("<", v)
}

// LessThanEqual returns items where the sort key is less than or equal to the provided value.
func LessThanEqual[T any](v T) SortKeyStrategy {
	return compare("<=", v)
}

func compare(op string, v any) SortKeyStrategy {
	return func(sk string, value func(any) string) string {
		return sk + " " + op + " " + value(v)
	}
}
