package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/pagination"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/repositories"
)

// OrderRepository stores one row per order. Line items and the breakdown are JSON columns; the
// record fields are plain columns so reports can aggregate them in SQL.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository wraps db.
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires a database")
	}
	return &OrderRepository{db: db}, nil
}

type orderRow struct {
	ID                    string                  `gorm:"primaryKey;size:32"`
	StoreID               string                  `gorm:"size:64;index:idx_orders_store_created,priority:1"`
	TerminalID            string                  `gorm:"size:64;index"`
	Status                string                  `gorm:"size:16;index"`
	Currency              string                  `gorm:"size:3"`
	PriceMode             string                  `gorm:"size:16"`
	OrderDiscount         int64
	Items                 []domain.OrderLineItem  `gorm:"serializer:json"`
	Breakdown             []pricing.ItemBreakdown `gorm:"serializer:json"`
	Adjustments           []pricing.Adjustment    `gorm:"serializer:json"`
	GrossSubtotal         int64
	Subtotal              int64
	Discount              int64
	AppliedDiscount       int64
	Tax                   int64
	Total                 int64
	CustomerPayment       int64
	RecordSubtotal        int64
	RecordDiscount        int64
	RecordTax             int64
	RecordTotal           int64
	RecordPriceIncludeTax bool
	CreatedAt             time.Time `gorm:"index:idx_orders_store_created,priority:2"`
	UpdatedAt             time.Time
	PersistedAt           *time.Time
	ReconciledAt          *time.Time
}

func (orderRow) TableName() string { return "orders" }

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	row := toRow(order)
	return wrapError("orders.insert", r.db.WithContext(ctx).Create(&row).Error)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var row orderRow
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).Take(&row).Error; err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return row.toDomain(), nil
}

func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Clamp(filter.Pagination.PageSize)

	query := r.db.WithContext(ctx).Model(&orderRow{})
	if id := strings.TrimSpace(filter.StoreID); id != "" {
		query = query.Where("store_id = ?", id)
	}
	if id := strings.TrimSpace(filter.TerminalID); id != "" {
		query = query.Where("terminal_id = ?", id)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", filter.To.UTC())
	}
	if !cursor.IsZero() {
		at := cursor.CreatedAt.UTC()
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, cursor.ID)
	}

	var rows []orderRow
	if err := query.Order("created_at DESC").Order("id DESC").Limit(size + 1).Find(&rows).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(rows), size))}
	for i, row := range rows {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, row.toDomain())
	}
	return page, nil
}

func (r *OrderRepository) MarkReconciled(ctx context.Context, orderIDs []string, at time.Time) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	at = at.UTC()
	result := r.db.WithContext(ctx).Model(&orderRow{}).
		Where("id IN ? AND status = ?", orderIDs, string(domain.OrderStatusPersisted)).
		Updates(map[string]any{
			"status":        string(domain.OrderStatusReconciled),
			"reconciled_at": at,
			"updated_at":    at,
		})
	if result.Error != nil {
		return 0, wrapError("orders.mark_reconciled", result.Error)
	}
	return int(result.RowsAffected), nil
}

func toRow(order domain.Order) orderRow {
	return orderRow{
		ID:                    order.ID,
		StoreID:               order.StoreID,
		TerminalID:            order.TerminalID,
		Status:                string(order.Status),
		Currency:              order.Currency,
		PriceMode:             string(order.PriceMode),
		OrderDiscount:         order.OrderDiscount,
		Items:                 order.Items,
		Breakdown:             order.Breakdown,
		Adjustments:           order.Adjustments,
		GrossSubtotal:         order.Totals.GrossSubtotal,
		Subtotal:              order.Totals.Subtotal,
		Discount:              order.Totals.Discount,
		AppliedDiscount:       order.Totals.AppliedDiscount,
		Tax:                   order.Totals.Tax,
		Total:                 order.Totals.Total,
		CustomerPayment:       order.Totals.CustomerPayment,
		RecordSubtotal:        order.Record.Subtotal,
		RecordDiscount:        order.Record.Discount,
		RecordTax:             order.Record.Tax,
		RecordTotal:           order.Record.Total,
		RecordPriceIncludeTax: order.Record.PriceIncludeTax,
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
		PersistedAt:           utcPtr(order.PersistedAt),
		ReconciledAt:          utcPtr(order.ReconciledAt),
	}
}

func (row orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:            row.ID,
		StoreID:       row.StoreID,
		TerminalID:    row.TerminalID,
		Status:        domain.OrderStatus(row.Status),
		Currency:      row.Currency,
		PriceMode:     pricing.PriceMode(row.PriceMode),
		OrderDiscount: row.OrderDiscount,
		Items:         row.Items,
		Breakdown:     row.Breakdown,
		Adjustments:   row.Adjustments,
		Totals: domain.OrderTotals{
			GrossSubtotal:   row.GrossSubtotal,
			Subtotal:        row.Subtotal,
			Discount:        row.Discount,
			AppliedDiscount: row.AppliedDiscount,
			Tax:             row.Tax,
			Total:           row.Total,
			CustomerPayment: row.CustomerPayment,
		},
		Record: pricing.Record{
			Subtotal:        row.RecordSubtotal,
			Discount:        row.RecordDiscount,
			Tax:             row.RecordTax,
			Total:           row.RecordTotal,
			PriceIncludeTax: row.RecordPriceIncludeTax,
		},
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		PersistedAt:  utcPtr(row.PersistedAt),
		ReconciledAt: utcPtr(row.ReconciledAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
