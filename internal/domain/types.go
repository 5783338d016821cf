package domain

import (
	"time"
)

// Page describes offset paging inputs for list operations, 1-indexed.
type Page struct {
	Number int
	Size   int
}

// Offset returns the zero-based row offset for the page.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// ProductStatus enumerates catalog lifecycle states.
type ProductStatus string

const (
	// ProductStatusActive marks products that can be sold.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusInactive marks products hidden from listings but still purchasable from existing carts.
	ProductStatusInactive ProductStatus = "inactive"
	// ProductStatusRemoved marks products withdrawn from sale; stale cart lines may still reference them.
	ProductStatusRemoved ProductStatus = "removed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusInactive, ProductStatusRemoved:
		return true
	}
	return false
}

// Product is the read-only catalog projection consumed by cart and checkout.
type Product struct {
	ID        string
	Title     string
	UnitPrice int64
	Status    ProductStatus
	UpdatedAt time.Time
}

// Checkoutable reports whether the product may contribute to an order.
func (p Product) Checkoutable() bool {
	return p.Status != ProductStatusRemoved
}

// CartLine is a single product+quantity entry, ordered by AddedAt.
type CartLine struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

// CartItem joins a cart line with its current product snapshot.
type CartItem struct {
	Product  Product
	Quantity int
	AddedAt  time.Time
}

// Subtotal is quantity times the product's unit price in minor units.
func (i CartItem) Subtotal() int64 {
	return int64(i.Quantity) * i.Product.UnitPrice
}

// Order captures an immutable checkout result. Amounts are minor units.
type Order struct {
	ID         string
	AccountID  string
	TotalPrice int64
	Currency   string
	Items      []OrderItem
	ItemCount  int
	CreatedAt  time.Time
}

// OrderItem snapshots a purchased line at checkout time.
type OrderItem struct {
	OrderID   string
	ProductID string
	Title     string
	Quantity  int
	UnitPrice int64
}

// Subtotal returns quantity times the purchase-time unit price.
func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID            string
	TotalPrice    int64
	Currency      string
	ItemCount     int
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// OrderPage is a page of order summaries.
type OrderPage struct {
	Items      []OrderSummary
	Page       Page
	TotalCount int
}

// HasNext reports whether another page follows.
func (p OrderPage) HasNext() bool {
	return p.Page.Size > 0 && p.Page.Offset()+len(p.Items) < p.TotalCount
}

// AddressType distinguishes shipping and billing addresses.
type AddressType string

const (
	AddressTypeShipping AddressType = "shipping"
	AddressTypeBilling  AddressType = "billing"
)

// Address is a postal address attached to a profile.
type Address struct {
	Type        AddressType
	Address1    string
	Address2    string
	City        string
	State       string
	Zipcode     string
	CountryCode string
}

// Profile is the account-owned customer record.
type Profile struct {
	AccountID string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Shipping  *Address
	Billing   *Address
	CreatedAt time.Time
	UpdatedAt time.Time
}
