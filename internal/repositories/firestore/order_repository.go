package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tillpoint/api/internal/domain"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
	"github.com/tillpoint/api/internal/platform/pagination"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/repositories"
)

const (
	orderCollection = "orders"
	// Firestore allows 500 writes per transaction.
	reconcileBatchSize = 200
)

// OrderRepository stores orders as one document per order.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, orderCollection, nil, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.orders.Create(ctx, order.ID, toOrderDocument(order))
	return err
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Clamp(filter.Pagination.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if id := strings.TrimSpace(filter.StoreID); id != "" {
			q = q.Where("storeId", "==", id)
		}
		if id := strings.TrimSpace(filter.TerminalID); id != "" {
			q = q.Where("terminalId", "==", id)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.From != nil {
			q = q.Where("createdAt", ">=", filter.From.UTC())
		}
		if filter.To != nil {
			q = q.Where("createdAt", "<", filter.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

func (r *OrderRepository) MarkReconciled(ctx context.Context, orderIDs []string, at time.Time) (int, error) {
	at = at.UTC()
	updated := 0
	for start := 0; start < len(orderIDs); start += reconcileBatchSize {
		batch := orderIDs[start:min(start+reconcileBatchSize, len(orderIDs))]
		refs := make([]*firestore.DocumentRef, 0, len(batch))
		for _, id := range batch {
			ref, err := r.orders.Doc(ctx, id)
			if err != nil {
				return updated, err
			}
			refs = append(refs, ref)
		}

		count := 0
		err := r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
			count = 0
			snaps, err := tx.GetAll(refs)
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				if !snap.Exists() {
					continue
				}
				status, err := snap.DataAt("status")
				if err != nil || status != string(domain.OrderStatusPersisted) {
					continue
				}
				if err := tx.Update(snap.Ref, []firestore.Update{
					{Path: "status", Value: string(domain.OrderStatusReconciled)},
					{Path: "reconciledAt", Value: at},
					{Path: "updatedAt", Value: at},
				}); err != nil {
					return err
				}
				count++
			}
			return nil
		})
		if err != nil {
			return updated, err
		}
		updated += count
	}
	return updated, nil
}

type orderDocument struct {
	StoreID       string              `firestore:"storeId"`
	TerminalID    string              `firestore:"terminalId"`
	Status        string              `firestore:"status"`
	Currency      string              `firestore:"currency"`
	PriceMode     string              `firestore:"priceMode"`
	OrderDiscount int64               `firestore:"orderDiscount"`
	Items         []lineItemDocument  `firestore:"items"`
	Breakdown     []breakdownDocument `firestore:"breakdown"`
	Totals        totalsDocument      `firestore:"totals"`
	Record        recordDocument      `firestore:"record"`
	Adjustments   []adjustmentDoc     `firestore:"adjustments,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	PersistedAt   *time.Time          `firestore:"persistedAt,omitempty"`
	ReconciledAt  *time.Time          `firestore:"reconciledAt,omitempty"`
}

type lineItemDocument struct {
	ID             string  `firestore:"id"`
	Label          string  `firestore:"label"`
	UnitPrice      int64   `firestore:"unitPrice"`
	Quantity       int64   `firestore:"quantity"`
	TaxRatePercent float64 `firestore:"taxRatePercent"`
}

type breakdownDocument struct {
	ID        string `firestore:"id"`
	LineValue int64  `firestore:"lineValue"`
	Discount  int64  `firestore:"discount"`
	Subtotal  int64  `firestore:"subtotal"`
	Tax       int64  `firestore:"tax"`
	LineTotal int64  `firestore:"lineTotal"`
}

type totalsDocument struct {
	GrossSubtotal   int64 `firestore:"grossSubtotal"`
	Subtotal        int64 `firestore:"subtotal"`
	Discount        int64 `firestore:"discount"`
	AppliedDiscount int64 `firestore:"appliedDiscount"`
	Tax             int64 `firestore:"tax"`
	Total           int64 `firestore:"total"`
	CustomerPayment int64 `firestore:"customerPayment"`
}

// recordDocument holds the fields reporting re-derives revenue from.
type recordDocument struct {
	Subtotal        int64 `firestore:"subtotal"`
	Discount        int64 `firestore:"discount"`
	Tax             int64 `firestore:"tax"`
	Total           int64 `firestore:"total"`
	PriceIncludeTax bool  `firestore:"priceIncludeTax"`
}

type adjustmentDoc struct {
	ItemID string `firestore:"itemId"`
	Field  string `firestore:"field"`
	Reason string `firestore:"reason"`
}

func toOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		StoreID:       order.StoreID,
		TerminalID:    order.TerminalID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		PriceMode:     string(order.PriceMode),
		OrderDiscount: order.OrderDiscount,
		Totals:        totalsDocument(order.Totals),
		Record:        recordDocument(order.Record),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		PersistedAt:   order.PersistedAt,
		ReconciledAt:  order.ReconciledAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument(item))
	}
	for _, line := range order.Breakdown {
		doc.Breakdown = append(doc.Breakdown, breakdownDocument(line))
	}
	for _, adj := range order.Adjustments {
		doc.Adjustments = append(doc.Adjustments, adjustmentDoc{ItemID: adj.ItemID, Field: adj.Field, Reason: string(adj.Reason)})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:            id,
		StoreID:       d.StoreID,
		TerminalID:    d.TerminalID,
		Status:        domain.OrderStatus(d.Status),
		Currency:      d.Currency,
		PriceMode:     pricing.PriceMode(d.PriceMode),
		OrderDiscount: d.OrderDiscount,
		Totals:        domain.OrderTotals(d.Totals),
		Record:        pricing.Record(d.Record),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		PersistedAt:   d.PersistedAt,
		ReconciledAt:  d.ReconciledAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderLineItem(item))
	}
	for _, line := range d.Breakdown {
		order.Breakdown = append(order.Breakdown, pricing.ItemBreakdown(line))
	}
	for _, adj := range d.Adjustments {
		order.Adjustments = append(order.Adjustments, pricing.Adjustment{ItemID: adj.ItemID, Field: adj.Field, Reason: pricing.AdjustmentReason(adj.Reason)})
	}
	return order
}
