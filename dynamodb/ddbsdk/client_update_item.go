package ddbsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update applies update actions to one item, creating it if it does not exist
// unless a condition says otherwise.
type Update struct {
	once
	key          table.PrimaryKey
	update       expr.Update
	cond         expr.Condition
	ttl          *time.Time
	returnValues types.ReturnValue
	returnOnFail bool
}

// NewUpdate applies actions to the item at key, creating it if absent.
func NewUpdate(key table.PrimaryKey, actions ...expr.Action) *Update {
	return &Update{key: key, update: expr.NewUpdate(actions...)}
}

// With adds more actions.
func (u *Update) With(actions ...expr.Action) *Update {
	u.update = u.update.With(actions...)
	return u
}

// WithCondition ANDs c onto the update's condition.
func (u *Update) WithCondition(c expr.Condition) *Update {
	u.cond = u.cond.And(c)
	return u
}

// WithTTL sets the table's time-to-live attribute.
func (u *Update) WithTTL(expiry time.Time) *Update {
	u.ttl = &expiry
	return u
}

// WithReturnValues selects which attributes UpdateItem returns.
func (u *Update) WithReturnValues(rv types.ReturnValue) *Update {
	u.returnValues = rv
	return u
}

// WithReturnOnConditionFailure makes a failed condition carry the existing
// item in its ConditionalCheckFailedError.
func (u *Update) WithReturnOnConditionFailure() *Update {
	u.returnOnFail = true
	return u
}

// UpdateItem executes u. The returned item holds the attributes selected with
// WithReturnValues and is nil otherwise.
func (c *Client) UpdateItem(ctx context.Context, u *Update) (Item, error) {
	if err := u.claim(); err != nil {
		return nil, err
	}
	in, e, err := u.toUpdateItem(c.def)
	if err != nil {
		return nil, err
	}
	ctx, call := c.begin(ctx, "UpdateItem", "", e)
	out, err := c.awsddb.UpdateItem(ctx, in)
	if err = call.end(err); err != nil {
		return nil, err
	}
	return out.Attributes, nil
}

func (u *Update) toUpdateItem(def table.TableDefinition) (*dynamodbv2.UpdateItemInput, expr.Expression, error) {
	key, err := keyItem(def, u.key)
	if err != nil {
		return nil, expr.Expression{}, err
	}
	update := u.update
	if u.ttl != nil {
		if def.TimeToLiveKey == "" {
			return nil, expr.Expression{}, ddberr.Validationf("table %q has no time-to-live attribute", def.Name)
		}
		update = update.With(expr.Set(def.TimeToLiveKey, table.NewExpiry(*u.ttl)))
	}
	for _, a := range update.Actions() {
		for _, name := range def.KeyDefinitions.AttributeNames() {
			if a.Name() == name {
				return nil, expr.Expression{}, ddberr.Validationf("update of %s: key attribute %q cannot be updated", u.key, name)
			}
		}
	}
	e, err := expr.NewBuilder().Update(update).Condition(u.cond).Build()
	if err != nil {
		return nil, expr.Expression{}, fmt.Errorf("update of %s: %w", u.key, err)
	}
	return &dynamodbv2.UpdateItemInput{
		TableName:                           &def.Name,
		Key:                                 key,
		UpdateExpression:                    e.Update,
		ConditionExpression:                 e.Condition,
		ExpressionAttributeNames:            e.Names,
		ExpressionAttributeValues:           e.Values,
		ReturnValues:                        u.returnValues,
		ReturnValuesOnConditionCheckFailure: returnOnFailure(u.returnOnFail),
	}, e, nil
}

func (u *Update) toTransactWriteItem(def table.TableDefinition) (types.TransactWriteItem, Item, error) {
	in, _, err := u.toUpdateItem(def)
	if err != nil {
		return types.TransactWriteItem{}, nil, err
	}
	if in.ReturnValues != "" && in.ReturnValues != types.ReturnValueNone {
		return types.TransactWriteItem{}, nil, ddberr.Validationf("update of %s: return values are not supported in a transaction", u.key)
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           in.TableName,
			Key:                                 in.Key,
			UpdateExpression:                    in.UpdateExpression,
			ConditionExpression:                 in.ConditionExpression,
			ExpressionAttributeNames:            in.ExpressionAttributeNames,
			ExpressionAttributeValues:           in.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: in.ReturnValuesOnConditionCheckFailure,
		},
	}, in.Key, nil
}

// keyItem renders key after checking it was built for the table.
func keyItem(def table.TableDefinition, key table.PrimaryKey) (Item, error) {
	if key.Definition != def.KeyDefinitions {
		return nil, ddberr.Validationf("key %s does not match table %q", key, def.Name)
	}
	return key.Item()
}
