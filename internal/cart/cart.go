// Package cart holds the in-memory shopping cart for one in-progress sale.
//
// A Cart performs no I/O and no locking; its owner serializes access.
package cart

import (
	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
)

// Cart keeps lines in insertion order. Product ids are unique across lines.
type Cart struct {
	lines []domain.CartLine
}

func New() *Cart {
	return &Cart{lines: make([]domain.CartLine, 0, 8)}
}

// Add increments the quantity of an existing line for the product or appends
// a new line with quantity 1. The product record is taken as-is.
func (c *Cart) Add(product domain.Product) {
	if idx := c.indexOf(product.ID); idx >= 0 {
		line := &c.lines[idx]
		line.Quantity++
		line.LineTotal = lineTotal(line.UnitPrice, line.Quantity)
		return
	}

	c.lines = append(c.lines, domain.CartLine{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Quantity:  1,
		LineTotal: lineTotal(product.Price, 1),
	})
}

// SetQuantity removes the line when quantity <= 0. It reports false when no
// line exists for productID; an absent line is never created.
func (c *Cart) SetQuantity(productID string, quantity int) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	if quantity <= 0 {
		c.removeAt(idx)
		return true
	}

	line := &c.lines[idx]
	line.Quantity = quantity
	line.LineTotal = lineTotal(line.UnitPrice, quantity)
	return true
}

func (c *Cart) Remove(productID string) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}
	c.removeAt(idx)
	return true
}

func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

// GrandTotal is recomputed from the lines on every call.
func (c *Cart) GrandTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

// Lines returns a copy; mutating it does not affect the cart.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// ItemCount is the sum of quantities across lines.
func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.lines {
		count += line.Quantity
	}
	return count
}

func (c *Cart) indexOf(productID string) int {
	for i, line := range c.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

func lineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
