package services

import (
	"sort"
	"time"
)

// Quantity and ordering rules shared by every cart store.

// normaliseAddQuantity applies the default of one and rejects negatives.
func normaliseAddQuantity(qty int) (int, error) {
	switch {
	case qty == 0:
		return 1, nil
	case qty < 0:
		return 0, ErrCartInvalidQuantity
	}
	return qty, nil
}

// incrementLine adds qty to the productID line or inserts a new line first.
func incrementLine(lines []CartLine, productID string, qty int, at time.Time) ([]CartLine, CartLine) {
	for i := range lines {
		if lines[i].ProductID == productID {
			lines[i].Quantity += qty
			lines[i].UpdatedAt = at
			return lines, lines[i]
		}
	}
	line := CartLine{ProductID: productID, Quantity: qty, AddedAt: at, UpdatedAt: at}
	return append([]CartLine{line}, lines...), line
}

// replaceQuantity overwrites an existing line. Absent lines and non-positive
// quantities leave the slice untouched.
func replaceQuantity(lines []CartLine, productID string, qty int, at time.Time) bool {
	if qty <= 0 {
		return false
	}
	for i := range lines {
		if lines[i].ProductID == productID {
			lines[i].Quantity = qty
			lines[i].UpdatedAt = at
			return true
		}
	}
	return false
}

func removeLine(lines []CartLine, productID string) []CartLine {
	for i := range lines {
		if lines[i].ProductID == productID {
			return append(lines[:i:i], lines[i+1:]...)
		}
	}
	return lines
}

func findLine(lines []CartLine, productID string) (CartLine, bool) {
	for _, line := range lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return CartLine{}, false
}

// totalQuantity is the cart's item count: the sum of quantities, not the line count.
func totalQuantity(lines []CartLine) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}

// sortNewestFirst orders by AddedAt descending, ties broken by product id.
func sortNewestFirst(lines []CartLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].AddedAt.After(lines[j].AddedAt)
		}
		return lines[i].ProductID < lines[j].ProductID
	})
}

func lineProductIDs(lines []CartLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
