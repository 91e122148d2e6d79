package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item together with its available stock.
// Version is the concurrency token guarding Stock.
type Product struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
	Version   int // optimistic locking
	UpdatedAt time.Time
}

// StockChange describes one successful decrement applied by the stock ledger.
type StockChange struct {
	ProductID     string
	ProductName   string
	UnitPrice     decimal.Decimal
	PreviousStock int
	NewStock      int
	Attempts      int
}

type Customer struct {
	ID      string
	Name    string
	Surname string
}

// FullName joins name and surname the way order snapshots display it.
func (c Customer) FullName() string {
	switch {
	case c.Name == "":
		return c.Surname
	case c.Surname == "":
		return c.Name
	}
	return c.Name + " " + c.Surname
}
