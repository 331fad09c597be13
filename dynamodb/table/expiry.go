package table

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Expiry is a point in time stored the way the store's time-to-live feature
// expects it: a number of seconds since the unix epoch. Sub-second precision
// is dropped.
type Expiry struct {
	time.Time
}

var (
	_ attributevalue.Marshaler   = Expiry{}
	_ attributevalue.Unmarshaler = (*Expiry)(nil)
)

func NewExpiry(t time.Time) Expiry {
	return Expiry{t.Truncate(time.Second)}
}

// ExpiresIn returns an Expiry d from now.
func ExpiresIn(d time.Duration) Expiry {
	return NewExpiry(time.Now().Add(d))
}

func (e Expiry) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(e.Unix(), 10)}, nil
}

func (e *Expiry) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("expiry: expected N attribute, got %T", av)
	}
	secs, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	e.Time = time.Unix(secs, 0).UTC()
	return nil
}

// KeyString formats the expiry for use inside a sort key: RFC 3339 in UTC
// with no fractional seconds, so keys sort chronologically.
func (e Expiry) KeyString() string {
	return e.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Expired reports whether the expiry is at or before now.
func (e Expiry) Expired(now time.Time) bool {
	return !e.After(now)
}
