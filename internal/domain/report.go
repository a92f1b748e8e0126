package domain

import "time"

// SalesSummary aggregates persisted orders the way reporting sees them: from record fields only.
type SalesSummary struct {
	StoreID          string
	From             *time.Time
	To               *time.Time
	OrderCount       int
	Revenue          int64
	Tax              int64
	Discount         int64
	Total            int64
	CustomerPayments int64
	ByMode           map[string]ModeSummary
	GeneratedAt      time.Time
}

// ModeSummary is the per price mode slice of a sales summary.
type ModeSummary struct {
	OrderCount int
	Revenue    int64
	Tax        int64
}

// DiscrepancySeverity grades how far a reconciled figure is from the stored breakdown.
type DiscrepancySeverity string

const (
	SeverityLow      DiscrepancySeverity = "low"
	SeverityMedium   DiscrepancySeverity = "medium"
	SeverityHigh     DiscrepancySeverity = "high"
	SeverityCritical DiscrepancySeverity = "critical"
)

// Discrepancy records an order whose persisted fields no longer reconcile with its breakdown.
type Discrepancy struct {
	OrderID    string
	StoreID    string
	Expected   int64
	Actual     int64
	Difference int64
	Severity   DiscrepancySeverity
	DetectedAt time.Time
}

// ReconciliationReport is the outcome of a reconciliation run.
type ReconciliationReport struct {
	StoreID       string
	Checked       int
	Reconciled    int
	Discrepancies []Discrepancy
	RunAt         time.Time
}
