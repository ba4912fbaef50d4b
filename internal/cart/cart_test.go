package cart

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv/backend/internal/domain"
)

func product(id string, price string) domain.Product {
	return domain.Product{ID: id, Name: "Produto " + id, Price: decimal.RequireFromString(price), Active: true}
}

func sumOfLines(lines []domain.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

func TestAddMergesLinesByProductID(t *testing.T) {
	c := New()
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d"}
	counts := map[string]int{}

	for i := 0; i < 200; i++ {
		id := ids[rng.Intn(len(ids))]
		c.Add(product(id, "1.25"))
		counts[id]++

		require.True(t, c.GrandTotal().Equal(sumOfLines(c.Lines())), "grand total drifted after add %d", i)
	}

	lines := c.Lines()
	require.Len(t, lines, len(counts))
	for _, line := range lines {
		assert.Equal(t, counts[line.ProductID], line.Quantity, "quantity for %s", line.ProductID)
		assert.True(t, line.LineTotal.Equal(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))))
	}
}

func TestAddKeepsInsertionOrder(t *testing.T) {
	c := New()
	c.Add(product("b", "2"))
	c.Add(product("a", "1"))
	c.Add(product("b", "2"))

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "b", lines[0].ProductID)
	assert.Equal(t, "a", lines[1].ProductID)
	assert.Equal(t, 3, c.ItemCount())
}

func TestAddAcceptsNonPositivePrice(t *testing.T) {
	c := New()
	c.Add(product("free", "0"))
	c.Add(product("odd", "-1.50"))

	require.Equal(t, 2, c.Len())
	assert.True(t, c.GrandTotal().Equal(decimal.RequireFromString("-1.50")))
}

func TestSetQuantity(t *testing.T) {
	c := New()
	c.Add(product("a", "10.00"))

	require.True(t, c.SetQuantity("a", 3))
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.True(t, lines[0].LineTotal.Equal(decimal.RequireFromString("30.00")))

	require.True(t, c.SetQuantity("a", 0))
	assert.True(t, c.IsEmpty())
}

func TestSetQuantityNegativeRemovesLine(t *testing.T) {
	c := New()
	c.Add(product("a", "1"))
	c.Add(product("b", "1"))

	require.True(t, c.SetQuantity("a", -4))
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "b", lines[0].ProductID)
}

func TestSetQuantityOnAbsentProductIsNoop(t *testing.T) {
	c := New()
	c.Add(product("a", "1"))

	assert.False(t, c.SetQuantity("missing", 5))
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Remove("missing"))
	assert.Equal(t, 1, c.Len())
}

func TestClear(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Add(product(fmt.Sprintf("p%d", i), "3.10"))
	}

	c.Clear()
	assert.True(t, c.GrandTotal().IsZero())
	assert.Empty(t, c.Lines())

	c.Clear()
	assert.True(t, c.IsEmpty())
}

func TestLinesReturnsCopy(t *testing.T) {
	c := New()
	c.Add(product("a", "5"))

	lines := c.Lines()
	lines[0].Quantity = 99
	lines[0].LineTotal = decimal.NewFromInt(495)

	assert.Equal(t, 1, c.Lines()[0].Quantity)
	assert.True(t, c.GrandTotal().Equal(decimal.NewFromInt(5)))
}

func TestGrandTotalAfterMixedMutations(t *testing.T) {
	c := New()
	rng := rand.New(rand.NewSource(7))
	ids := []string{"x", "y", "z"}

	for i := 0; i < 300; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0, 1:
			c.Add(product(id, "0.35"))
		case 2:
			c.SetQuantity(id, rng.Intn(6)-1)
		case 3:
			c.Remove(id)
		}
		require.True(t, c.GrandTotal().Equal(sumOfLines(c.Lines())))

		seen := map[string]bool{}
		for _, line := range c.Lines() {
			require.False(t, seen[line.ProductID], "duplicate line for %s", line.ProductID)
			require.Positive(t, line.Quantity)
			seen[line.ProductID] = true
		}
	}
}

func TestTwoLineScenarioTotal(t *testing.T) {
	c := New()
	a := product("A", "10.00")
	c.Add(a)
	c.Add(a)
	c.Add(product("B", "3.50"))

	assert.True(t, c.GrandTotal().Equal(decimal.RequireFromString("23.50")))
}
