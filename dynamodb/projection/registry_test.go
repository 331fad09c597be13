package projection

import (
	"errors"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customersTable = func() table.TableDefinition {
	def := table.StandardTable("customers", 1, 0)
	def.TimeToLiveKey = "ttl"
	return def
}()

type order struct {
	OrderID string `dynamodbav:"order_id"`
	Total   int    `dynamodbav:"total"`
	Note    string `dynamodbav:"note,omitempty"`
	secret  string
}

func (order) EntityType() string { return "order" }

func (o order) FullKey() (table.FullKey, error) {
	return table.FullKey{Primary: table.NewKey(table.StandardPrimaryKey, "CUSTOMER#1", "ORDER#"+o.OrderID)}, nil
}

type audit struct {
	CreatedBy string `dynamodbav:"created_by"`
}

type customer struct {
	audit
	Name  string `dynamodbav:"name"`
	Email string `dynamodbav:"email"`
	Skip  string `dynamodbav:"-"`
}

func (*customer) EntityType() string { return "customer" }

func (c *customer) FullKey() (table.FullKey, error) {
	return table.FullKey{Primary: table.NewKey(table.StandardPrimaryKey, "CUSTOMER#1", "CUSTOMER#1")}, nil
}

type orderSummary struct {
	OrderID string `dynamodbav:"order_id"`
	Total   int    `dynamodbav:"total"`
	SK      string `dynamodbav:"SK"`
}

type customerName struct {
	Name      string `dynamodbav:"name"`
	CreatedBy string `dynamodbav:"created_by"`
	TTL       int64  `dynamodbav:"ttl"`
}

type view struct {
	Customer *customerName
	Order    *orderSummary
}

func orderView(o orderSummary) view    { return view{Order: &o} }
func customerView(c customerName) view { return view{Customer: &c} }

func newRegistry(t *testing.T) *Registry[view] {
	t.Helper()
	r := NewRegistry[view](customersTable)
	require.NoError(t, RegisterEntity[order](r, orderView))
	require.NoError(t, RegisterEntity[*customer](r, customerView))
	return r
}

func item(t *testing.T, entityType string, v any) Item {
	t.Helper()
	m, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	m[table.DefaultEntityTypeAttribute] = &types.AttributeValueMemberS{Value: entityType}
	return m
}

func TestRegisterEntity_StructuralCheck(t *testing.T) {
	type unknownField struct {
		OrderID string `dynamodbav:"order_id"`
		Status  string `dynamodbav:"status"`
	}
	r := NewRegistry[view](customersTable)
	err := RegisterEntity[order](r, func(unknownField) view { return view{} })
	require.ErrorIs(t, err, ddberr.ErrValidation)
	assert.Contains(t, err.Error(), "status")
	assert.Empty(t, r.Tags())

	type keysAndMeta struct {
		PK     string `dynamodbav:"PK"`
		GSI1PK string `dynamodbav:"GSI1PK"`
		Type   string `dynamodbav:"entity_type"`
		TTL    int64  `dynamodbav:"ttl"`
	}
	require.NoError(t, RegisterEntity[order](r, func(keysAndMeta) view { return view{} }))

	t.Run("embedded fields are produced", func(t *testing.T) {
		r := NewRegistry[view](customersTable)
		require.NoError(t, RegisterEntity[*customer](r, customerView))
		assert.Equal(t, []string{"customer"}, r.Tags())
	})
	t.Run("ignored fields are not produced", func(t *testing.T) {
		type skipped struct {
			Skip string `dynamodbav:"Skip"`
		}
		r := NewRegistry[view](customersTable)
		err := RegisterEntity[*customer](r, func(skipped) view { return view{} })
		require.ErrorIs(t, err, ddberr.ErrValidation)
	})
	t.Run("unexported fields are not produced", func(t *testing.T) {
		type hidden struct {
			Secret string `dynamodbav:"secret"`
		}
		r := NewRegistry[view](customersTable)
		err := RegisterEntity[order](r, func(hidden) view { return view{} })
		require.ErrorIs(t, err, ddberr.ErrValidation)
	})
}

func TestRegister_Duplicates(t *testing.T) {
	r := newRegistry(t)
	err := Register(r, "order", orderView)
	require.ErrorIs(t, err, ddberr.ErrValidation)

	err = Register(r, "", orderView)
	require.ErrorIs(t, err, ddberr.ErrValidation)

	err = RegisterFunc[view](r, "x", nil, nil)
	require.ErrorIs(t, err, ddberr.ErrValidation)
}

func TestDecode(t *testing.T) {
	r := newRegistry(t)

	t.Run("dispatches on entity type", func(t *testing.T) {
		v, err := r.Decode(item(t, "order", order{OrderID: "7", Total: 42}))
		require.NoError(t, err)
		require.NotNil(t, v.Order)
		assert.Nil(t, v.Customer)
		assert.Equal(t, orderSummary{OrderID: "7", Total: 42}, *v.Order)

		v, err = r.Decode(item(t, "customer", customer{Name: "Ada", audit: audit{CreatedBy: "ops"}}))
		require.NoError(t, err)
		require.NotNil(t, v.Customer)
		assert.Equal(t, "Ada", v.Customer.Name)
		assert.Equal(t, "ops", v.Customer.CreatedBy)
	})
	t.Run("missing entity type", func(t *testing.T) {
		_, err := r.Decode(Item{"name": &types.AttributeValueMemberS{Value: "x"}})
		var pm *ddberr.ProjectionMismatchError
		require.True(t, errors.As(err, &pm))
		assert.Equal(t, "missing entity type", pm.Reason)
	})
	t.Run("entity type is not a string", func(t *testing.T) {
		_, err := r.Decode(Item{table.DefaultEntityTypeAttribute: &types.AttributeValueMemberN{Value: "1"}})
		require.ErrorIs(t, err, ddberr.ErrProjectionMismatch)
	})
	t.Run("unknown entity type", func(t *testing.T) {
		_, err := r.Decode(item(t, "invoice", order{OrderID: "1"}))
		var pm *ddberr.ProjectionMismatchError
		require.True(t, errors.As(err, &pm))
		assert.Equal(t, "invoice", pm.EntityType)
	})
	t.Run("decode failure does not fall back", func(t *testing.T) {
		bad := item(t, "order", order{OrderID: "1"})
		bad["total"] = &types.AttributeValueMemberS{Value: "many"}
		_, err := r.Decode(bad)
		var pm *ddberr.ProjectionMismatchError
		require.True(t, errors.As(err, &pm))
		assert.Equal(t, "order", pm.EntityType)
		require.Error(t, pm.Err)
	})
}

func TestRegisterFunc(t *testing.T) {
	r := NewRegistry[string](customersTable)
	isLegacy := func(it Item) bool {
		_, ok := it["legacy_id"]
		return ok
	}
	err := RegisterFunc(r, "legacy", isLegacy, func(it Item) (string, error) {
		return it["legacy_id"].(*types.AttributeValueMemberS).Value, nil
	}, "legacy_id")
	require.NoError(t, err)

	v, err := r.Decode(Item{
		table.DefaultEntityTypeAttribute: &types.AttributeValueMemberS{Value: "anything"},
		"legacy_id":                      &types.AttributeValueMemberS{Value: "L-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "L-1", v)
	assert.Equal(t, []string{"entity_type", "legacy_id"}, r.Attributes())
}

func TestAttributes(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, []string{"SK", "created_by", "entity_type", "name", "order_id", "total", "ttl"}, r.Attributes())
	assert.Equal(t, []string{"order", "customer"}, r.Tags())
}
