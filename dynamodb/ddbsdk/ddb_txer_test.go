package ddbsdk

import (
	"context"
	"fmt"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/aws"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactWrite_Commit(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.PutItem(ctx, NewPut(testUser{ID: "1", Age: 30, Version: 1})))
	require.NoError(t, c.PutItem(ctx, NewPut(testUser{ID: "gone"})))

	tx := NewTransactWrite(
		NewCreate(testOrder{UserID: "1", OrderID: "1", Total: 10}),
		NewUpdate(userKey("1"), expr.Increment("version", 1)).WithCondition(expr.Name("version").Equal(1)),
		NewDelete(userKey("gone")),
	).Add(NewConditionCheck(testKey("user#1", "order#nope"), expr.AttributeNotExists("pk")))
	require.NoError(t, c.TransactWrite(ctx, tx))

	order, found, err := GetEntity[testOrder](ctx, c, NewGet(testKey("user#1", "order#1")))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10, order.Total)

	u, _, err := GetEntity[testUser](ctx, c, NewGet(userKey("1")))
	require.NoError(t, err)
	assert.Equal(t, 2, u.Version)

	gone, err := c.GetItem(ctx, NewGet(userKey("gone")))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTransactWrite_CancellationReasons(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.PutItem(ctx, NewPut(testUser{ID: "taken", Age: 7})))

	err := c.TransactWrite(ctx, NewTransactWrite(
		NewCreate(testUser{ID: "free"}),
		NewCreate(testUser{ID: "taken"}).WithReturnOnConditionFailure(),
	))
	require.ErrorIs(t, err, ddberr.ErrTransactionCanceled)
	assert.True(t, ddberr.IsConditionalCheckFailed(err))

	var tce *ddberr.TransactionCanceledError
	require.ErrorAs(t, err, &tce)
	require.Len(t, tce.Reasons, 1)
	assert.Equal(t, 1, tce.Reasons[0].Index)
	assert.Equal(t, ddberr.ReasonConditionalCheckFailed, tce.Reasons[0].Code)
	assert.Equal(t, n("7"), tce.Reasons[0].Item["age"])

	free, err := c.GetItem(ctx, NewGet(userKey("free")))
	require.NoError(t, err)
	assert.Nil(t, free, "a canceled transaction writes nothing")
}

func TestTransactWrite_Validation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	tooMany := NewTransactWrite()
	for i := 0; i <= MaxTransactItems; i++ {
		tooMany.Add(NewPut(testUser{ID: fmt.Sprint(i)}))
	}
	tests := map[string]*TransactWrite{
		"empty":                     NewTransactWrite(),
		"too many":                  tooMany,
		"duplicate item":            NewTransactWrite(NewPut(testUser{ID: "1"}), NewDelete(userKey("1"))),
		"condition check no cond":   NewTransactWrite(NewConditionCheck(userKey("1"), expr.Condition{})),
		"delete returning old":      NewTransactWrite(NewDelete(userKey("1")).WithReturnOld()),
		"update returning values":   NewTransactWrite(NewUpdate(userKey("1"), expr.Set("age", 1)).WithReturnValues(types.ReturnValueAllNew)),
		"nil action":                NewTransactWrite(nil),
		"update without any action": NewTransactWrite(NewUpdate(userKey("1"))),
	}
	for name, tx := range tests {
		t.Run(name, func(t *testing.T) {
			requireValidation(t, c.TransactWrite(ctx, tx))
		})
	}
}

func TestTransactWrite_Tokens(t *testing.T) {
	ctx := context.Background()

	t.Run("repeating a token is a no-op", func(t *testing.T) {
		c := newTestClient(t)
		for i := 0; i < 2; i++ {
			tx := NewTransactWrite(NewUpdate(userKey("1"), expr.AddNumber("age", 1))).WithClientRequestToken("token-1")
			require.NoError(t, c.TransactWrite(ctx, tx))
		}
		u, _, err := GetEntity[testUser](ctx, c, NewGet(userKey("1")))
		require.NoError(t, err)
		assert.Equal(t, 1, u.Age)
	})

	t.Run("generated token is sent", func(t *testing.T) {
		var sent *string
		fake := &fakeDynamo{transactWrite: func(in *dynamodbv2.TransactWriteItemsInput) (*dynamodbv2.TransactWriteItemsOutput, error) {
			sent = in.ClientRequestToken
			return &dynamodbv2.TransactWriteItemsOutput{}, nil
		}}
		c := newClient(t, fake)

		tx := NewTransactWrite(NewPut(testUser{ID: "1"})).WithGeneratedToken()
		require.NoError(t, c.TransactWrite(ctx, tx))
		require.NotNil(t, sent)
		assert.Equal(t, tx.Token(), *sent)
		_, err := uuid.Parse(*sent)
		assert.NoError(t, err)
	})

	t.Run("no token by default", func(t *testing.T) {
		fake := &fakeDynamo{transactWrite: func(in *dynamodbv2.TransactWriteItemsInput) (*dynamodbv2.TransactWriteItemsOutput, error) {
			assert.Nil(t, in.ClientRequestToken)
			return &dynamodbv2.TransactWriteItemsOutput{}, nil
		}}
		require.NoError(t, newClient(t, fake).TransactWrite(ctx, NewTransactWrite(NewPut(testUser{ID: "1"}))))
	})
}

func TestTransactWrite_ReasonsWithoutStoreDetail(t *testing.T) {
	fake := &fakeDynamo{transactWrite: func(in *dynamodbv2.TransactWriteItemsInput) (*dynamodbv2.TransactWriteItemsOutput, error) {
		return nil, &types.TransactionCanceledException{Message: aws.String("canceled")}
	}}
	c := newClient(t, fake)

	err := c.TransactWrite(context.Background(), NewTransactWrite(NewPut(testUser{ID: "1"})))
	var tce *ddberr.TransactionCanceledError
	require.ErrorAs(t, err, &tce)
	assert.Empty(t, tce.Reasons)
	assert.False(t, ddberr.IsConditionalCheckFailed(err))
}
