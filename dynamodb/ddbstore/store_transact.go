package ddbstore

import (
	"context"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/ddbstore/eval"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// TransactGetItems reads up to 100 items from one snapshot. Responses follow
// request order, with an empty response for each missing item.
func (s *Store) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationErr("transact items are required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validationErr("member must have length less than or equal to %d", maxTransactItems)
	}

	type get struct {
		tabl *tableSchema
		req  *types.Get
		key  []byte
	}
	gets := make([]get, len(params.TransactItems))
	for i, ti := range params.TransactItems {
		if ti.Get == nil {
			return nil, validationErr("transact item %d has no Get", i)
		}
		tabl, err := s.getTable(ti.Get.TableName)
		if err != nil {
			return nil, err
		}
		key, err := tabl.keyFromRequest(ti.Get.Key)
		if err != nil {
			return nil, err
		}
		gets[i] = get{tabl: tabl, req: ti.Get, key: key}
	}

	out := &dynamodb.TransactGetItemsOutput{Responses: make([]types.ItemResponse, len(gets))}
	err := s.db.View(func(txn *badger.Txn) error {
		for i, g := range gets {
			item, err := load(txn, g.key)
			if err != nil {
				return err
			}
			if err := projectItems(g.req.ProjectionExpression, g.req.ExpressionAttributeNames, item); err != nil {
				return err
			}
			out.Responses[i] = types.ItemResponse{Item: item}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transactWrite is one TransactItem resolved against its table.
type transactWrite struct {
	tabl *tableSchema
	key  []byte

	condition *string
	names     map[string]string
	values    map[string]types.AttributeValue
	onFailure types.ReturnValuesOnConditionCheckFailure

	put    map[string]types.AttributeValue
	update *eval.Update
	rawKey map[string]types.AttributeValue
	delete bool
}

// TransactWriteItems applies up to 100 writes atomically. If any condition
// fails nothing is written and the error lists a reason per item.
func (s *Store) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationErr("transact items are required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validationErr("member must have length less than or equal to %d", maxTransactItems)
	}

	writes := make([]transactWrite, len(params.TransactItems))
	seen := map[string]bool{}
	for i, ti := range params.TransactItems {
		w, err := s.resolveTransactWrite(ti)
		if err != nil {
			return nil, err
		}
		if seen[string(w.key)] {
			return nil, validationErr("transaction request cannot include multiple operations on one item")
		}
		seen[string(w.key)] = true
		writes[i] = w
	}

	token := aws.ToString(params.ClientRequestToken)
	if token != "" {
		s.mu.Lock()
		done := s.tokens[token]
		s.mu.Unlock()
		if done {
			s.log.Debug("transaction token already applied", zap.String("token", token))
			return &dynamodb.TransactWriteItemsOutput{}, nil
		}
	}

	err := s.update(func(txn *badger.Txn) error {
		reasons := make([]types.CancellationReason, len(writes))
		olds := make([]map[string]types.AttributeValue, len(writes))
		news := make([]map[string]types.AttributeValue, len(writes))
		canceled := false
		for i, w := range writes {
			reasons[i] = types.CancellationReason{Code: aws.String(ddberr.ReasonNone)}
			old, err := load(txn, w.key)
			if err != nil {
				return err
			}
			olds[i] = old
			ok, err := s.condition(w.condition, w.names, w.values, old)
			if err != nil {
				return err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{
					Code:    aws.String(ddberr.ReasonConditionalCheckFailed),
					Message: aws.String(conditionFailedMsg),
				}
				if w.onFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
					reasons[i].Item = old
				}
				continue
			}
			switch {
			case w.put != nil:
				news[i] = eval.CopyItem(w.put)
			case w.update != nil:
				item, err := applyUpdate(w.tabl, w.update, w.rawKey, old)
				if err != nil {
					canceled = true
					reasons[i] = types.CancellationReason{
						Code:    aws.String(ddberr.ReasonValidationError),
						Message: aws.String(err.Error()),
					}
					continue
				}
				news[i] = item
			}
		}
		if canceled {
			return canceledError(reasons)
		}

		for i, w := range writes {
			var err error
			switch {
			case w.delete:
				err = w.tabl.remove(txn, w.key, olds[i])
			case news[i] != nil:
				err = w.tabl.write(txn, w.key, olds[i], news[i])
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Debug("transact write failed", zap.Int("items", len(writes)), zap.Error(err))
		return nil, err
	}

	if token != "" {
		s.mu.Lock()
		s.tokens[token] = true
		s.mu.Unlock()
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (s *Store) resolveTransactWrite(ti types.TransactWriteItem) (transactWrite, error) {
	var (
		w       transactWrite
		count   int
		err     error
		tabName *string
	)
	if p := ti.Put; p != nil {
		count++
		tabName = p.TableName
		w = transactWrite{condition: p.ConditionExpression, names: p.ExpressionAttributeNames,
			values: p.ExpressionAttributeValues, onFailure: p.ReturnValuesOnConditionCheckFailure, put: p.Item}
	}
	if u := ti.Update; u != nil {
		count++
		tabName = u.TableName
		w = transactWrite{condition: u.ConditionExpression, names: u.ExpressionAttributeNames,
			values: u.ExpressionAttributeValues, onFailure: u.ReturnValuesOnConditionCheckFailure, rawKey: u.Key}
	}
	if d := ti.Delete; d != nil {
		count++
		tabName = d.TableName
		w = transactWrite{condition: d.ConditionExpression, names: d.ExpressionAttributeNames,
			values: d.ExpressionAttributeValues, onFailure: d.ReturnValuesOnConditionCheckFailure, rawKey: d.Key, delete: true}
	}
	if c := ti.ConditionCheck; c != nil {
		count++
		tabName = c.TableName
		if c.ConditionExpression == nil {
			return w, validationErr("ConditionCheck requires a ConditionExpression")
		}
		w = transactWrite{condition: c.ConditionExpression, names: c.ExpressionAttributeNames,
			values: c.ExpressionAttributeValues, onFailure: c.ReturnValuesOnConditionCheckFailure, rawKey: c.Key}
	}
	if count != 1 {
		return w, validationErr("a transact item must contain exactly one of Put, Update, Delete or ConditionCheck")
	}

	if w.tabl, err = s.getTable(tabName); err != nil {
		return w, err
	}
	if w.put != nil {
		if err := w.tabl.validateItem(w.put); err != nil {
			return w, err
		}
		w.key, err = w.tabl.keyOf(w.put)
		return w, err
	}
	if w.key, err = w.tabl.keyFromRequest(w.rawKey); err != nil {
		return w, err
	}
	if ti.Update != nil {
		if ti.Update.UpdateExpression == nil {
			return w, validationErr("Update requires an UpdateExpression")
		}
		w.update, err = parseUpdate(w.tabl, ti.Update.UpdateExpression, w.names, w.values)
		return w, err
	}
	return w, nil
}

func canceledError(reasons []types.CancellationReason) error {
	codes := make([]string, len(reasons))
	for i, r := range reasons {
		codes[i] = aws.ToString(r.Code)
	}
	return &types.TransactionCanceledException{
		Message:             aws.String(transactionCancelMsg + " [" + strings.Join(codes, ", ") + "]"),
		CancellationReasons: reasons,
	}
}
