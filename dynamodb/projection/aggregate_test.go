package projection

import (
	"errors"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce_Order(t *testing.T) {
	r := newRegistry(t)
	items := []Item{
		item(t, "customer", customer{Name: "Ada"}),
		item(t, "order", order{OrderID: "1", Total: 10}),
		item(t, "order", order{OrderID: "2", Total: 20}),
	}

	var vec Vec[view]
	require.NoError(t, Reduce(r, &vec, items))
	require.Len(t, vec, 3)
	assert.Equal(t, "Ada", vec[0].Customer.Name)
	assert.Equal(t, "1", vec[1].Order.OrderID)
	assert.Equal(t, "2", vec[2].Order.OrderID)
}

type customerOrders struct {
	Name   string
	Orders []string
	Total  int
}

func (c *customerOrders) Merge(v view) error {
	switch {
	case v.Customer != nil:
		c.Name = v.Customer.Name
	case v.Order != nil:
		c.Orders = append(c.Orders, v.Order.OrderID)
		c.Total += v.Order.Total
	}
	return nil
}

func TestReduce_MismatchKeepsPriorMerges(t *testing.T) {
	r := newRegistry(t)
	items := []Item{
		item(t, "customer", customer{Name: "Ada"}),
		item(t, "order", order{OrderID: "1", Total: 10}),
		item(t, "invoice", order{OrderID: "x"}),
		item(t, "order", order{OrderID: "2", Total: 20}),
	}

	var agg customerOrders
	err := Reduce[view](r, &agg, items)
	require.ErrorIs(t, err, ddberr.ErrProjectionMismatch)
	assert.Contains(t, err.Error(), "item 2")
	assert.Equal(t, customerOrders{Name: "Ada", Orders: []string{"1"}, Total: 10}, agg)
}

func TestReduce_MergeErrorStops(t *testing.T) {
	r := newRegistry(t)
	errFull := errors.New("full")
	var seen int
	agg := MergeFunc[view](func(view) error {
		seen++
		if seen == 2 {
			return errFull
		}
		return nil
	})
	items := []Item{
		item(t, "order", order{OrderID: "1"}),
		item(t, "order", order{OrderID: "2"}),
		item(t, "order", order{OrderID: "3"}),
	}
	err := Reduce[view](r, agg, items)
	require.ErrorIs(t, err, errFull)
	assert.Equal(t, 2, seen)
}

func TestReduce_Empty(t *testing.T) {
	var vec Vec[view]
	require.NoError(t, Reduce(newRegistry(t), &vec, nil))
	assert.Empty(t, vec)
}
