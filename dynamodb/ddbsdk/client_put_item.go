package ddbsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type putMode int

const (
	putUpsert putMode = iota
	putCreate
	putReplace
)

// Put writes a whole entity. Build it with NewPut, NewCreate or NewReplace.
type Put struct {
	once
	entity       table.Entity
	mode         putMode
	cond         expr.Condition
	ttl          *time.Time
	returnOnFail bool
}

// NewPut writes entity unconditionally, replacing any existing item.
func NewPut(entity table.Entity) *Put {
	return &Put{entity: entity, mode: putUpsert}
}

// NewCreate writes entity only if no item with its key exists.
func NewCreate(entity table.Entity) *Put {
	return &Put{entity: entity, mode: putCreate}
}

// NewReplace writes entity only if an item with its key already exists.
func NewReplace(entity table.Entity) *Put {
	return &Put{entity: entity, mode: putReplace}
}

// WithCondition ANDs c onto the put's condition.
func (p *Put) WithCondition(c expr.Condition) *Put {
	p.cond = p.cond.And(c)
	return p
}

// WithTTL writes the table's time-to-live attribute.
func (p *Put) WithTTL(expiry time.Time) *Put {
	p.ttl = &expiry
	return p
}

// WithReturnOnConditionFailure makes a failed condition carry the existing
// item in its ConditionalCheckFailedError.
func (p *Put) WithReturnOnConditionFailure() *Put {
	p.returnOnFail = true
	return p
}

// PutItem executes p.
func (c *Client) PutItem(ctx context.Context, p *Put) error {
	if err := p.claim(); err != nil {
		return err
	}
	in, e, err := p.toPutItem(c.def)
	if err != nil {
		return err
	}
	ctx, call := c.begin(ctx, "PutItem", "", e)
	_, err = c.awsddb.PutItem(ctx, in)
	return call.end(err)
}

func (p *Put) toPutItem(def table.TableDefinition) (*dynamodbv2.PutItemInput, expr.Expression, error) {
	item, err := p.item(def)
	if err != nil {
		return nil, expr.Expression{}, err
	}
	e, err := expr.NewBuilder().Condition(p.condition(def)).Build()
	if err != nil {
		return nil, expr.Expression{}, fmt.Errorf("put %s: %w", p.entity.EntityType(), err)
	}
	return &dynamodbv2.PutItemInput{
		TableName:                           &def.Name,
		Item:                                item,
		ConditionExpression:                 e.Condition,
		ExpressionAttributeNames:            e.Names,
		ExpressionAttributeValues:           e.Values,
		ReturnValuesOnConditionCheckFailure: returnOnFailure(p.returnOnFail),
	}, e, nil
}

func (p *Put) toTransactWriteItem(def table.TableDefinition) (types.TransactWriteItem, Item, error) {
	in, _, err := p.toPutItem(def)
	if err != nil {
		return types.TransactWriteItem{}, nil, err
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                           in.TableName,
			Item:                                in.Item,
			ConditionExpression:                 in.ConditionExpression,
			ExpressionAttributeNames:            in.ExpressionAttributeNames,
			ExpressionAttributeValues:           in.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: in.ReturnValuesOnConditionCheckFailure,
		},
	}, table.KeyOf(def.KeyDefinitions, in.Item), nil
}

func (p *Put) condition(def table.TableDefinition) expr.Condition {
	var keyCond expr.Condition
	switch p.mode {
	case putCreate:
		for _, name := range def.KeyDefinitions.AttributeNames() {
			keyCond = keyCond.And(expr.AttributeNotExists(name))
		}
	case putReplace:
		for _, name := range def.KeyDefinitions.AttributeNames() {
			keyCond = keyCond.And(expr.AttributeExists(name))
		}
	}
	return expr.And(keyCond, p.cond)
}

// item renders the entity: its marshalled fields, every key attribute it
// writes and the entity type attribute.
func (p *Put) item(def table.TableDefinition) (Item, error) {
	if p.entity == nil {
		return nil, ddberr.Validationf("put: nil entity")
	}
	tag := p.entity.EntityType()
	doc, err := attributevalue.MarshalMap(p.entity)
	if err != nil {
		return nil, ddberr.Validationf("marshal %s: %w", tag, err)
	}
	fk, err := p.entity.FullKey()
	if err != nil {
		return nil, fmt.Errorf("key of %s: %w", tag, err)
	}
	keys, err := fk.Item()
	if err != nil {
		return nil, fmt.Errorf("key of %s: %w", tag, err)
	}
	if err := checkKeyDefinition(def, fk); err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	for name, v := range keys {
		if existing, ok := doc[name]; ok && !table.AttributeValuesEqual(existing, v) {
			return nil, ddberr.Validationf("%s: field %q conflicts with key attribute of the same name", tag, name)
		}
		doc[name] = v
	}

	typeAttr := def.EntityTypeAttr()
	tv := &types.AttributeValueMemberS{Value: tag}
	if existing, ok := doc[typeAttr]; ok && !table.AttributeValuesEqual(existing, tv) {
		return nil, ddberr.Validationf("%s: field %q conflicts with the entity type attribute", tag, typeAttr)
	}
	doc[typeAttr] = tv

	if p.ttl != nil {
		if def.TimeToLiveKey == "" {
			return nil, ddberr.Validationf("table %q has no time-to-live attribute", def.Name)
		}
		av, err := table.NewExpiry(*p.ttl).MarshalDynamoDBAttributeValue()
		if err != nil {
			return nil, fmt.Errorf("%s: time to live: %w", tag, err)
		}
		doc[def.TimeToLiveKey] = av
	}
	return doc, nil
}

// checkKeyDefinition rejects keys built for another table layout.
func checkKeyDefinition(def table.TableDefinition, fk table.FullKey) error {
	if fk.Primary.Definition != def.KeyDefinitions {
		return ddberr.Validationf("primary key %s does not match table %q", fk.Primary, def.Name)
	}
	return nil
}
