package ddbstore

import (
	"context"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore/eval"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BatchGetItem reads up to 100 items across tables. Missing items are left
// out of the response.
func (s *Store) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationErr("request items are required")
	}

	type request struct {
		tabl *tableSchema
		ka   types.KeysAndAttributes
		keys [][]byte
	}
	var requests []request
	total := 0
	for name, ka := range params.RequestItems {
		tabl, err := s.getTable(&name)
		if err != nil {
			return nil, err
		}
		if len(ka.Keys) == 0 {
			return nil, validationErr("keys for table %s must not be empty", name)
		}
		seen := map[string]bool{}
		req := request{tabl: tabl, ka: ka}
		for _, k := range ka.Keys {
			key, err := tabl.keyFromRequest(k)
			if err != nil {
				return nil, err
			}
			if seen[string(key)] {
				return nil, validationErr("provided list of item keys contains duplicates")
			}
			seen[string(key)] = true
			req.keys = append(req.keys, key)
		}
		total += len(ka.Keys)
		requests = append(requests, req)
	}
	if total > maxBatchGetKeys {
		return nil, validationErr("too many items requested for the BatchGetItem call: %d, max %d", total, maxBatchGetKeys)
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, req := range requests {
			name := req.tabl.definition.Name
			for i, key := range req.keys {
				if s.unprocessed() {
					ka := out.UnprocessedKeys[name]
					if ka.Keys == nil {
						ka = req.ka
						ka.Keys = nil
					}
					ka.Keys = append(ka.Keys, req.ka.Keys[i])
					out.UnprocessedKeys[name] = ka
					continue
				}
				item, err := load(txn, key)
				if err != nil {
					return err
				}
				if item == nil {
					continue
				}
				if err := projectItems(req.ka.ProjectionExpression, req.ka.ExpressionAttributeNames, item); err != nil {
					return err
				}
				out.Responses[name] = append(out.Responses[name], item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n := len(out.UnprocessedKeys); n > 0 {
		s.log.Debug("batch get left keys unprocessed", zap.Int("tables", n))
	}
	return out, nil
}

// BatchWriteItem puts or deletes up to 25 items across tables. Requests are
// applied independently; there is no condition support.
func (s *Store) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationErr("request items are required")
	}

	type write struct {
		tabl *tableSchema
		req  types.WriteRequest
		key  []byte
	}
	var writes []write
	for name, reqs := range params.RequestItems {
		tabl, err := s.getTable(&name)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, req := range reqs {
			var key []byte
			switch {
			case req.PutRequest != nil && req.DeleteRequest == nil:
				if err := tabl.validateItem(req.PutRequest.Item); err != nil {
					return nil, err
				}
				key, err = tabl.keyOf(req.PutRequest.Item)
			case req.DeleteRequest != nil && req.PutRequest == nil:
				key, err = tabl.keyFromRequest(req.DeleteRequest.Key)
			default:
				return nil, validationErr("a write request must contain exactly one of PutRequest or DeleteRequest")
			}
			if err != nil {
				return nil, err
			}
			if seen[string(key)] {
				return nil, validationErr("provided list of item keys contains duplicates")
			}
			seen[string(key)] = true
			writes = append(writes, write{tabl: tabl, req: req, key: key})
		}
	}
	if len(writes) > maxBatchWriteItems {
		return nil, validationErr("too many items in the BatchWriteItem call: %d, max %d", len(writes), maxBatchWriteItems)
	}

	var unprocessed map[string][]types.WriteRequest
	err := s.update(func(txn *badger.Txn) error {
		unprocessed = map[string][]types.WriteRequest{}
		for _, w := range writes {
			name := w.tabl.definition.Name
			if s.unprocessed() {
				unprocessed[name] = append(unprocessed[name], w.req)
				continue
			}
			old, err := load(txn, w.key)
			if err != nil {
				return err
			}
			if w.req.PutRequest != nil {
				err = w.tabl.write(txn, w.key, old, eval.CopyItem(w.req.PutRequest.Item))
			} else {
				err = w.tabl.remove(txn, w.key, old)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}
