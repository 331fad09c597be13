package ddbstore

import (
	"bytes"
	"context"
	"hash/fnv"
	"slices"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore/eval"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

type entry struct {
	key  []byte
	item map[string]types.AttributeValue
}

// readRequest is what Query and Scan share once the candidate entries are
// known.
type readRequest struct {
	tabl       *tableSchema
	index      *table.IndexDefinition
	startKey   map[string]types.AttributeValue
	limit      *int32
	filter     *eval.Condition
	projection *string
	names      map[string]string
	sel        types.Select
	forward    bool
}

type readResult struct {
	items        []map[string]types.AttributeValue
	count        int32
	scannedCount int32
	lastKey      map[string]types.AttributeValue
}

// Query reads the items of one partition, in sort key order.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.KeyConditionExpression == nil {
		return nil, validationErr("either the KeyConditions or KeyConditionExpression parameter must be specified in the request")
	}
	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	idx, err := tabl.index(params.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkConsistentRead(idx, params.ConsistentRead); err != nil {
		return nil, err
	}
	keyDef := tabl.definition.KeyDefinitions
	if idx != nil {
		keyDef = idx.KeyDefinitions
	}
	in := eval.Input{Names: params.ExpressionAttributeNames, Values: params.ExpressionAttributeValues}
	kc, err := eval.ParseKeyCondition(*params.KeyConditionExpression, in, keyDef)
	if err != nil {
		return nil, validationErr("invalid KeyConditionExpression: %v", err)
	}
	filter, err := parseFilter(params.FilterExpression, in)
	if err != nil {
		return nil, err
	}

	prefix := tablePrefix(tabl.definition.Name)
	if idx != nil {
		prefix = indexPrefix(tabl.definition.Name, idx.Name)
	}
	prefix, err = partitionPrefix(prefix, keyDef.PartitionKey, kc.Partition)
	if err != nil {
		return nil, validationErr("invalid KeyConditionExpression: %v", err)
	}

	var entries []entry
	err = s.db.View(func(txn *badger.Txn) error {
		all, err := readPrefix(txn, prefix, idx != nil)
		if err != nil {
			return err
		}
		for _, e := range all {
			ok, err := kc.MatchSort(e.item)
			if err != nil {
				return validationErr("invalid KeyConditionExpression: %v", err)
			}
			if ok {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.page(entries, readRequest{
		tabl:       tabl,
		index:      idx,
		startKey:   params.ExclusiveStartKey,
		limit:      params.Limit,
		filter:     filter,
		projection: params.ProjectionExpression,
		names:      params.ExpressionAttributeNames,
		sel:        params.Select,
		forward:    params.ScanIndexForward == nil || *params.ScanIndexForward,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{
		Items:            res.items,
		Count:            res.count,
		ScannedCount:     res.scannedCount,
		LastEvaluatedKey: res.lastKey,
	}, nil
}

// Scan reads every item of a table or index. With TotalSegments set, only
// the partitions hashed to Segment are read.
func (s *Store) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	idx, err := tabl.index(params.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkConsistentRead(idx, params.ConsistentRead); err != nil {
		return nil, err
	}
	if (params.Segment == nil) != (params.TotalSegments == nil) {
		return nil, validationErr("Segment and TotalSegments must be specified together")
	}
	var segment, total int32
	if params.TotalSegments != nil {
		segment, total = *params.Segment, *params.TotalSegments
		if total < 1 || total > 1000000 || segment < 0 || segment >= total {
			return nil, validationErr("invalid segment %d of %d", segment, total)
		}
	}
	in := eval.Input{Names: params.ExpressionAttributeNames, Values: params.ExpressionAttributeValues}
	filter, err := parseFilter(params.FilterExpression, in)
	if err != nil {
		return nil, err
	}

	keyDef := tabl.definition.KeyDefinitions
	prefix := tablePrefix(tabl.definition.Name)
	if idx != nil {
		keyDef = idx.KeyDefinitions
		prefix = indexPrefix(tabl.definition.Name, idx.Name)
	}

	var entries []entry
	err = s.db.View(func(txn *badger.Txn) error {
		all, err := readPrefix(txn, prefix, idx != nil)
		if err != nil {
			return err
		}
		for _, e := range all {
			if total > 0 && segmentOf(keyDef, e.item, total) != segment {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.page(entries, readRequest{
		tabl:       tabl,
		index:      idx,
		startKey:   params.ExclusiveStartKey,
		limit:      params.Limit,
		filter:     filter,
		projection: params.ProjectionExpression,
		names:      params.ExpressionAttributeNames,
		sel:        params.Select,
		forward:    true,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{
		Items:            res.items,
		Count:            res.count,
		ScannedCount:     res.scannedCount,
		LastEvaluatedKey: res.lastKey,
	}, nil
}

func checkConsistentRead(idx *table.IndexDefinition, consistent *bool) error {
	if idx != nil && idx.Kind != table.IndexLocal && consistent != nil && *consistent {
		return validationErr("consistent reads are not supported on global secondary indexes")
	}
	return nil
}

func parseFilter(src *string, in eval.Input) (*eval.Condition, error) {
	if src == nil {
		return nil, nil
	}
	c, err := eval.ParseCondition(*src, in)
	if err != nil {
		return nil, validationErr("invalid FilterExpression: %v", err)
	}
	return c, nil
}

// segmentOf hashes an item's partition key onto one of total segments.
func segmentOf(def table.PrimaryKeyDefinition, item map[string]types.AttributeValue, total int32) int32 {
	var buf bytes.Buffer
	_ = writeKeyValue(&buf, def.PartitionKey, item[def.PartitionKey.Name])
	h := fnv.New32a()
	h.Write(buf.Bytes())
	return int32(h.Sum32() % uint32(total))
}

// readPrefix loads every entry under prefix in key order. Index entries hold
// the table entry key, which is followed to the item.
func readPrefix(txn *badger.Txn, prefix []byte, isIndex bool) ([]entry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []entry
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var item map[string]types.AttributeValue
		if isIndex {
			item, err = load(txn, val)
			if err != nil {
				return nil, err
			}
			if item == nil {
				continue
			}
		} else if item, err = deserializeItem(val); err != nil {
			return nil, err
		}
		out = append(out, entry{key: key, item: item})
	}
	return out, nil
}

// page applies direction, start key, limit, filter, select and projection,
// in that order. Limit counts evaluated items, before the filter.
func (s *Store) page(entries []entry, req readRequest) (readResult, error) {
	if !req.forward {
		slices.Reverse(entries)
	}

	if len(req.startKey) > 0 {
		start, err := req.startEntryKey()
		if err != nil {
			return readResult{}, err
		}
		i := 0
		for i < len(entries) {
			c := bytes.Compare(entries[i].key, start)
			if (req.forward && c > 0) || (!req.forward && c < 0) {
				break
			}
			i++
		}
		entries = entries[i:]
	}

	var res readResult
	if req.limit != nil {
		if *req.limit < 1 {
			return readResult{}, validationErr("limit must be greater than or equal to 1")
		}
		if len(entries) > int(*req.limit) {
			entries = entries[:*req.limit]
			res.lastKey = req.lastKey(entries[len(entries)-1].item)
		}
	}
	res.scannedCount = int32(len(entries))

	for _, e := range entries {
		if req.filter != nil {
			ok, err := req.filter.Eval(e.item)
			if err != nil {
				return readResult{}, validationErr("invalid FilterExpression: %v", err)
			}
			if !ok {
				continue
			}
		}
		res.items = append(res.items, e.item)
	}
	res.count = int32(len(res.items))

	switch req.sel {
	case types.SelectCount:
		res.items = nil
	case types.SelectSpecificAttributes:
		if req.projection == nil {
			return readResult{}, validationErr("Select SPECIFIC_ATTRIBUTES requires a ProjectionExpression")
		}
	}
	if err := projectItems(req.projection, req.names, res.items...); err != nil {
		return readResult{}, err
	}
	return res, nil
}

func (req readRequest) startEntryKey() ([]byte, error) {
	if req.index == nil {
		return req.tabl.keyOf(req.startKey)
	}
	key, err := req.tabl.indexKeyOf(*req.index, req.startKey)
	if err != nil || key == nil {
		return nil, validationErr("the provided starting key is invalid")
	}
	return key, nil
}

// lastKey is the table key of item, plus the index key when reading an index.
func (req readRequest) lastKey(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := table.KeyOf(req.tabl.definition.KeyDefinitions, item)
	if req.index != nil {
		for k, v := range table.KeyOf(req.index.KeyDefinitions, item) {
			out[k] = v
		}
	}
	return out
}
