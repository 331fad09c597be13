package ddbstore

import (
	"context"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore/eval"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// GetItem returns the item with the given key, if it exists.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := tabl.keyFromRequest(params.Key)
	if err != nil {
		return nil, err
	}

	var item map[string]types.AttributeValue
	err = s.db.View(func(txn *badger.Txn) error {
		item, err = load(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := projectItems(params.ProjectionExpression, params.ExpressionAttributeNames, item); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// PutItem creates or replaces an item.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.Item == nil {
		return nil, validationErr("item is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationErr("return values %s is not valid for PutItem", params.ReturnValues)
	}
	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	if err := tabl.validateItem(params.Item); err != nil {
		return nil, err
	}
	key, err := tabl.keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	item := eval.CopyItem(params.Item)

	var old map[string]types.AttributeValue
	err = s.update(func(txn *badger.Txn) error {
		old, err = load(txn, key)
		if err != nil {
			return err
		}
		ok, err := s.condition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, old)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
		}
		return tabl.write(txn, key, old, item)
	})
	if err != nil {
		s.log.Debug("put item failed", zap.String("table", tabl.definition.Name), zap.Error(err))
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// UpdateItem edits an existing item's attributes, or adds a new item if it
// does not exist.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := tabl.keyFromRequest(params.Key)
	if err != nil {
		return nil, err
	}
	upd, err := parseUpdate(tabl, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	var old, item map[string]types.AttributeValue
	err = s.update(func(txn *badger.Txn) error {
		old, err = load(txn, key)
		if err != nil {
			return err
		}
		ok, err := s.condition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, old)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
		}
		item, err = applyUpdate(tabl, upd, params.Key, old)
		if err != nil {
			return err
		}
		return tabl.write(txn, key, old, item)
	})
	if err != nil {
		s.log.Debug("update item failed", zap.String("table", tabl.definition.Name), zap.Error(err))
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllOld:
		out.Attributes = old
	case types.ReturnValueAllNew:
		out.Attributes = item
	case types.ReturnValueUpdatedOld:
		out.Attributes = pick(old, upd)
	case types.ReturnValueUpdatedNew:
		out.Attributes = pick(item, upd)
	}
	return out, nil
}

func parseUpdate(tabl *tableSchema, src *string, names map[string]string, values map[string]types.AttributeValue) (*eval.Update, error) {
	if src == nil {
		return nil, nil
	}
	upd, err := eval.ParseUpdate(*src, eval.Input{Names: names, Values: values})
	if err != nil {
		return nil, validationErr("invalid UpdateExpression: %v", err)
	}
	for _, name := range upd.Attributes() {
		for _, keyName := range tabl.definition.KeyDefinitions.AttributeNames() {
			if name == keyName {
				return nil, validationErr("one or more parameter values were invalid: cannot update attribute %s. This attribute is part of the key", name)
			}
		}
	}
	return upd, nil
}

// applyUpdate computes the item an update produces. A missing item starts
// out as its key.
func applyUpdate(tabl *tableSchema, upd *eval.Update, key, old map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	base := old
	if base == nil {
		base = eval.CopyItem(key)
	}
	if upd == nil {
		return eval.CopyItem(base), nil
	}
	item, err := upd.Apply(base)
	if err != nil {
		return nil, validationErr("invalid UpdateExpression: %v", err)
	}
	if err := tabl.validateItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// pick returns the top-level attributes of item touched by upd.
func pick(item map[string]types.AttributeValue, upd *eval.Update) map[string]types.AttributeValue {
	if item == nil || upd == nil {
		return nil
	}
	out := map[string]types.AttributeValue{}
	for _, name := range upd.Attributes() {
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DeleteItem deletes a single item by key.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationErr("return values %s is not valid for DeleteItem", params.ReturnValues)
	}
	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := tabl.keyFromRequest(params.Key)
	if err != nil {
		return nil, err
	}

	var old map[string]types.AttributeValue
	err = s.update(func(txn *badger.Txn) error {
		old, err = load(txn, key)
		if err != nil {
			return err
		}
		ok, err := s.condition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, old)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
		}
		return tabl.remove(txn, key, old)
	})
	if err != nil {
		s.log.Debug("delete item failed", zap.String("table", tabl.definition.Name), zap.Error(err))
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}
