package ddbsdk

import (
	"context"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	dynamodbv2 "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// TransactWrite applies up to MaxTransactItems writes atomically: either all
// of them succeed or none does. Only one action per item is allowed.
type TransactWrite struct {
	once
	actions []WriteAction
	token   string
}

// NewTransactWrite applies every action or none of them.
func NewTransactWrite(actions ...WriteAction) *TransactWrite {
	return &TransactWrite{actions: actions}
}

// Add stages more actions. Actions added here are owned by the transaction
// and cannot be executed on their own afterwards.
func (tx *TransactWrite) Add(actions ...WriteAction) *TransactWrite {
	tx.actions = append(tx.actions, actions...)
	return tx
}

// WithClientRequestToken makes the transaction idempotent: repeating it with
// the same token is a no-op.
// Tokens last for 10 minutes according to AWS documentation. If used after
// that, the request will be treated as new.
// https://docs.aws.amazon.com/amazondynamodb/latest/APIReference/API_TransactWriteItems.html
func (tx *TransactWrite) WithClientRequestToken(token string) *TransactWrite {
	tx.token = token
	return tx
}

// WithGeneratedToken sets a random request token, so retries of this exact
// value by the SDK are not applied twice.
func (tx *TransactWrite) WithGeneratedToken() *TransactWrite {
	tx.token = uuid.NewString()
	return tx
}

// Token is the client request token, empty if none was set.
func (tx *TransactWrite) Token() string {
	return tx.token
}

// TransactWrite executes tx. A canceled transaction is a
// ddberr.TransactionCanceledError whose reasons are indexed like the actions.
func (c *Client) TransactWrite(ctx context.Context, tx *TransactWrite) error {
	if err := tx.claim(); err != nil {
		return err
	}
	if len(tx.actions) == 0 || len(tx.actions) > MaxTransactItems {
		return ddberr.Validationf("transact write needs 1 to %d actions, got %d", MaxTransactItems, len(tx.actions))
	}
	items := make([]types.TransactWriteItem, len(tx.actions))
	seen := make(map[string]int, len(tx.actions))
	for i, a := range tx.actions {
		if a == nil {
			return ddberr.Validationf("transact write %d: nil action", i)
		}
		if err := a.claim(); err != nil {
			return fmt.Errorf("transact write %d: %w", i, err)
		}
		twi, key, err := a.toTransactWriteItem(c.def)
		if err != nil {
			return fmt.Errorf("transact write %d: %w", i, err)
		}
		id := keyID(key)
		if prev, dup := seen[id]; dup {
			return ddberr.Validationf("transact write %d: item already has an action at index %d", i, prev)
		}
		seen[id] = i
		items[i] = twi
	}

	in := &dynamodbv2.TransactWriteItemsInput{TransactItems: items}
	if tx.token != "" {
		in.ClientRequestToken = &tx.token
	}
	ctx, call := c.begin(ctx, "TransactWriteItems", "", emptyExpression)
	_, err := c.awsddb.TransactWriteItems(ctx, in)
	return call.end(err)
}
