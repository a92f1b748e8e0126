package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/platform/display"
	"github.com/tillpoint/api/internal/platform/format"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/repositories"
)

const maxLabelLength = 120

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate order id.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps wires the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Config         config.PricingConfig
	Engine         Engine
	Events         OrderEventPublisher
	Display        display.Publisher
	DisplayTimeout time.Duration
	Meter          metric.Meter
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         EventLogger
}

type orderService struct {
	orders         repositories.OrderRepository
	pricer         cartPricer
	events         OrderEventPublisher
	display        display.Publisher
	displayTimeout time.Duration
	labels         *bluemonday.Policy
	now            func() time.Time
	newID          func() string
	logger         EventLogger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	publisher := deps.Display
	if publisher == nil {
		publisher = display.Noop
	}
	timeout := deps.DisplayTimeout
	if timeout <= 0 {
		timeout = defaultDisplayTimeout
	}
	return &orderService{
		orders:         deps.Orders,
		pricer:         newCartPricer(deps.Config, deps.Engine, deps.Meter, logger),
		events:         deps.Events,
		display:        publisher,
		displayTimeout: timeout,
		labels:         bluemonday.StrictPolicy(),
		now:            func() time.Time { return clock().UTC() },
		newID:          idGen,
		logger:         logger,
	}, nil
}

// Checkout prices the cart with the same engine path as quotes, freezes the result into the
// persisted record and stores the order.
func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (domain.Order, error) {
	storeID := strings.TrimSpace(cmd.StoreID)
	terminalID := strings.TrimSpace(cmd.TerminalID)
	if storeID == "" || terminalID == "" {
		return domain.Order{}, fmt.Errorf("%w: store and terminal are required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}

	now := s.now()
	order := domain.Order{
		ID:            s.newID(),
		StoreID:       storeID,
		TerminalID:    terminalID,
		Status:        domain.OrderStatusDraft,
		Currency:      s.pricer.cfg.Currency,
		OrderDiscount: cmd.OrderDiscount,
		Items:         s.cleanItems(cmd.Items),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	totals, err := s.pricer.price(ctx, storeID, order.Items, cmd.OrderDiscount, "checkout")
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.Order{}, err
	}
	if err := advance(&order, domain.OrderStatusPriced, now); err != nil {
		return domain.Order{}, err
	}
	order.PriceMode = totals.Mode
	order.Breakdown = totals.Items
	order.Totals = domain.TotalsFrom(totals)
	order.Adjustments = totals.Adjustments
	order.Record = pricing.RecordFor(totals)

	if err := advance(&order, domain.OrderStatusPersisted, now); err != nil {
		return domain.Order{}, err
	}
	persistedAt := now
	order.PersistedAt = &persistedAt

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order_persisted", map[string]any{
		"orderId":    order.ID,
		"storeId":    storeID,
		"terminalId": terminalID,
		"mode":       string(order.PriceMode),
		"total":      order.Totals.Total,
	})

	if s.events != nil {
		if err := s.events.PublishOrderPersisted(ctx, order); err != nil {
			s.logger(ctx, "order_event_publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	publishDisplay(ctx, s.display, s.displayTimeout, s.logger, display.Event{
		ID:         uuid.NewString(),
		Kind:       display.KindCheckout,
		StoreID:    storeID,
		TerminalID: terminalID,
		OrderID:    order.ID,
		Sequence:   now.UnixNano(),
		Currency:   order.Currency,
		Totals:     totals,
		EmittedAt:  now,
	})
	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: from must be before to", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Receipt renders a stored order. It reads only persisted figures and never reprices.
func (s *orderService) Receipt(ctx context.Context, orderID string) (Receipt, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return Receipt{}, err
	}
	code := order.Currency
	if code == "" {
		code = s.pricer.cfg.Currency
	}
	money, err := format.NewMoney(code, "")
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		OrderID:         order.ID,
		StoreID:         order.StoreID,
		TerminalID:      order.TerminalID,
		Currency:        money.Code(),
		PriceIncludeTax: order.Record.PriceIncludeTax,
		Subtotal:        money.Format(order.Totals.Subtotal),
		Discount:        money.Format(order.Totals.AppliedDiscount),
		Tax:             money.Format(order.Totals.Tax),
		Total:           money.Format(order.Totals.Total),
		CustomerPayment: money.Format(order.Totals.CustomerPayment),
		IssuedAt:        s.now(),
	}

	breakdown := make(map[string]pricing.ItemBreakdown, len(order.Breakdown))
	for _, line := range order.Breakdown {
		breakdown[line.ID] = line
	}
	for _, item := range order.Items {
		line := breakdown[item.ID]
		printed := ReceiptLine{
			Label:          item.Label,
			Quantity:       item.Quantity,
			UnitPrice:      money.Format(item.UnitPrice),
			TaxRatePercent: item.TaxRatePercent,
			Amount:         money.Format(line.LineValue),
		}
		if line.Discount > 0 {
			printed.Discount = money.Format(line.Discount)
		}
		receipt.Lines = append(receipt.Lines, printed)
	}
	return receipt, nil
}

// cleanItems strips markup from labels and bounds their length. Amounts are left for the engine
// to normalize.
func (s *orderService) cleanItems(items []domain.OrderLineItem) []domain.OrderLineItem {
	cleaned := make([]domain.OrderLineItem, len(items))
	for i, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		label := strings.TrimSpace(s.labels.Sanitize(item.Label))
		if utf8.RuneCountInString(label) > maxLabelLength {
			label = string([]rune(label)[:maxLabelLength])
		}
		item.Label = label
		cleaned[i] = item
	}
	return cleaned
}

func (s *orderService) mapRepositoryError(err error) error {
	switch {
	case repositories.IsNotFound(err):
		return ErrOrderNotFound
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return err
}

func advance(order *domain.Order, next domain.OrderStatus, at time.Time) error {
	if !order.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, next)
	}
	order.Status = next
	order.UpdatedAt = at
	return nil
}
