package ddbsdk

import (
	"context"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Delete struct {
	once
	key          table.PrimaryKey
	cond         expr.Condition
	returnOld    bool
	returnOnFail bool
}

// NewDelete removes the item at key.
func NewDelete(key table.PrimaryKey) *Delete {
	return &Delete{key: key}
}

// WithCondition ANDs c onto the delete's condition.
func (d *Delete) WithCondition(c expr.Condition) *Delete {
	d.cond = d.cond.And(c)
	return d
}

// WithReturnOld makes DeleteItem return the deleted item.
func (d *Delete) WithReturnOld() *Delete {
	d.returnOld = true
	return d
}

// WithReturnOnConditionFailure attaches the current item to a
// ddberr.ConditionalCheckFailedError when the condition fails.
func (d *Delete) WithReturnOnConditionFailure() *Delete {
	d.returnOnFail = true
	return d
}

// DeleteItem executes d. Deleting a missing item is not an error. The old
// item is returned only with WithReturnOld, and is nil if nothing was deleted.
func (c *Client) DeleteItem(ctx context.Context, d *Delete) (Item, error) {
	if err := d.claim(); err != nil {
		return nil, err
	}
	in, e, err := d.toDeleteItem(c.def)
	if err != nil {
		return nil, err
	}
	ctx, call := c.begin(ctx, "DeleteItem", "", e)
	out, err := c.awsddb.DeleteItem(ctx, in)
	if err = call.end(err); err != nil {
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return out.Attributes, nil
}

func (d *Delete) toDeleteItem(def table.TableDefinition) (*dynamodbv2.DeleteItemInput, expr.Expression, error) {
	key, err := keyItem(def, d.key)
	if err != nil {
		return nil, expr.Expression{}, err
	}
	e, err := expr.NewBuilder().Condition(d.cond).Build()
	if err != nil {
		return nil, expr.Expression{}, fmt.Errorf("delete of %s: %w", d.key, err)
	}
	in := &dynamodbv2.DeleteItemInput{
		TableName:                           &def.Name,
		Key:                                 key,
		ConditionExpression:                 e.Condition,
		ExpressionAttributeNames:            e.Names,
		ExpressionAttributeValues:           e.Values,
		ReturnValuesOnConditionCheckFailure: returnOnFailure(d.returnOnFail),
	}
	if d.returnOld {
		in.ReturnValues = types.ReturnValueAllOld
	}
	return in, e, nil
}

func (d *Delete) toTransactWriteItem(def table.TableDefinition) (types.TransactWriteItem, Item, error) {
	in, _, err := d.toDeleteItem(def)
	if err != nil {
		return types.TransactWriteItem{}, nil, err
	}
	if d.returnOld {
		return types.TransactWriteItem{}, nil, ddberr.Validationf("delete of %s: return values are not supported in a transaction", d.key)
	}
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                           in.TableName,
			Key:                                 in.Key,
			ConditionExpression:                 in.ConditionExpression,
			ExpressionAttributeNames:            in.ExpressionAttributeNames,
			ExpressionAttributeValues:           in.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: in.ReturnValuesOnConditionCheckFailure,
		},
	}, in.Key, nil
}

// ConditionCheck asserts a condition on an item inside a TransactWrite
// without writing it.
type ConditionCheck struct {
	once
	key          table.PrimaryKey
	cond         expr.Condition
	returnOnFail bool
}

// NewConditionCheck asserts cond on the item at key inside a transaction
// without writing it.
func NewConditionCheck(key table.PrimaryKey, cond expr.Condition) *ConditionCheck {
	return &ConditionCheck{key: key, cond: cond}
}

// WithReturnOnConditionFailure reports the current item in the cancellation
// reason when cond fails.
func (cc *ConditionCheck) WithReturnOnConditionFailure() *ConditionCheck {
	cc.returnOnFail = true
	return cc
}

func (cc *ConditionCheck) toTransactWriteItem(def table.TableDefinition) (types.TransactWriteItem, Item, error) {
	if !cc.cond.IsSet() {
		return types.TransactWriteItem{}, nil, ddberr.Validationf("condition check of %s: no condition", cc.key)
	}
	key, err := keyItem(def, cc.key)
	if err != nil {
		return types.TransactWriteItem{}, nil, err
	}
	e, err := expr.NewBuilder().Condition(cc.cond).Build()
	if err != nil {
		return types.TransactWriteItem{}, nil, fmt.Errorf("condition check of %s: %w", cc.key, err)
	}
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                           &def.Name,
			Key:                                 key,
			ConditionExpression:                 e.Condition,
			ExpressionAttributeNames:            e.Names,
			ExpressionAttributeValues:           e.Values,
			ReturnValuesOnConditionCheckFailure: returnOnFailure(cc.returnOnFail),
		},
	}, key, nil
}
