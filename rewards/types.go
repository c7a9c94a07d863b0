/*
Package rewards implements the HPoints store: the product catalog and the
redemption workflow that spends points on it.

PURPOSE:
  Members exchange earned HPoints for products. The redemption is the one
  operation in the system needing strict three-way atomicity: stock
  decrement, ledger debit and redemption record must commit together or
  not at all, with availability and balance re-validated inside the
  transaction (a pre-check against a stale snapshot is not enough when
  two redemptions race for the last unit).

KEY TYPES:
  Product:    Catalog item with point cost and stock
  Redemption: A member's spend, with the point cost snapshotted
  Service:    Orchestrates redeem / fulfill / cancel

REDEMPTION LIFECYCLE:
  pending ──▶ fulfilled   (terminal)
     │
     └─────▶ cancelled   (terminal; refunds points, restores stock)

SEE ALSO:
  - service.go: the workflow
  - ledger/: debits and refunds land there
*/
package rewards

import (
	"time"

	"github.com/google/uuid"

	"github.com/pacecrew/hpoints-engine/ledger"
)

// =============================================================================
// PRODUCT
// =============================================================================

// Product is a catalog item purchasable with HPoints.
type Product struct {
	ID          string
	Name        string
	Description string

	// PointsCost is the per-unit price in points. Always positive.
	PointsCost int64

	// StockQuantity is units on hand; StockAvailable is an admin kill
	// switch independent of quantity (e.g. supplier backorder).
	StockQuantity  int64
	StockAvailable bool

	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Purchasable reports whether qty units can currently be redeemed.
func (p Product) Purchasable(qty int64) bool {
	return p.Active && p.StockAvailable && p.StockQuantity >= qty && qty > 0
}

// NewProductID generates a catalog product ID.
func NewProductID() string {
	return "prd-" + uuid.NewString()
}

// =============================================================================
// REDEMPTION
// =============================================================================

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// Redemption records a member's spend.
//
// INVARIANT: PointsSpent snapshots quantity * PointsCost at redemption time
// and never changes afterwards, even if the product is repriced.
type Redemption struct {
	ID        string
	UserID    ledger.UserID
	ProductID string
	Quantity  int64

	PointsSpent int64

	Status RedemptionStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}
