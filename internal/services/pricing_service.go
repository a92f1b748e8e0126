package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/platform/display"
	"github.com/tillpoint/api/internal/pricing"
)

const (
	meterName             = "github.com/tillpoint/api/services"
	defaultMaxItems       = 200
	defaultDisplayTimeout = 2 * time.Second
	defaultCurrency       = "VND"
)

var (
	// ErrPricingInvalidInput indicates a cart that cannot be priced as submitted.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PricingServiceDeps wires the pricing service.
type PricingServiceDeps struct {
	Config         config.PricingConfig
	Engine         Engine
	Display        display.Publisher
	DisplayTimeout time.Duration
	Meter          metric.Meter
	Clock          func() time.Time
	Logger         EventLogger
}

type pricingService struct {
	pricer         cartPricer
	display        display.Publisher
	displayTimeout time.Duration
	now            func() time.Time
	newID          func() string
	logger         EventLogger
}

var _ PricingService = (*pricingService)(nil)

// NewPricingService constructs a PricingService.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
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
	return &pricingService{
		pricer:         newCartPricer(deps.Config, deps.Engine, deps.Meter, logger),
		display:        publisher,
		displayTimeout: timeout,
		now:            func() time.Time { return clock().UTC() },
		newID:          uuid.NewString,
		logger:         logger,
	}, nil
}

// Quote prices the cart and pushes the result to the terminal's customer display. An empty cart
// is valid and yields zero totals so the display can clear.
func (s *pricingService) Quote(ctx context.Context, cmd QuoteCommand) (domain.PricingQuote, error) {
	terminalID := strings.TrimSpace(cmd.TerminalID)
	if terminalID == "" {
		return domain.PricingQuote{}, fmt.Errorf("%w: terminal id is required", ErrPricingInvalidInput)
	}
	storeID := strings.TrimSpace(cmd.StoreID)

	totals, err := s.pricer.price(ctx, storeID, cmd.Items, cmd.OrderDiscount, "quote")
	if err != nil {
		return domain.PricingQuote{}, err
	}

	now := s.now()
	sequence := cmd.Sequence
	if sequence <= 0 {
		sequence = now.UnixNano()
	}
	quote := domain.PricingQuote{
		StoreID:    storeID,
		TerminalID: terminalID,
		Currency:   s.pricer.cfg.Currency,
		Sequence:   sequence,
		Totals:     totals,
		QuotedAt:   now,
	}

	s.publishDisplay(ctx, display.Event{
		ID:         s.newID(),
		Kind:       display.KindQuote,
		StoreID:    storeID,
		TerminalID: terminalID,
		Sequence:   sequence,
		Currency:   quote.Currency,
		Totals:     totals,
		EmittedAt:  now,
	})
	return quote, nil
}

func (s *pricingService) publishDisplay(ctx context.Context, event display.Event) {
	publishDisplay(ctx, s.display, s.displayTimeout, s.logger, event)
}

// publishDisplay delivers event best effort. Failures are logged and never reach the caller.
func publishDisplay(ctx context.Context, publisher display.Publisher, timeout time.Duration, logger EventLogger, event display.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := publisher.Publish(ctx, event); err != nil {
		logger(ctx, "display_publish_failed", map[string]any{
			"terminalId": event.TerminalID,
			"sequence":   event.Sequence,
			"kind":       string(event.Kind),
			"error":      err.Error(),
		})
	}
}

// cartPricer validates carts and runs the engine. It is shared by quoting and checkout so both
// produce identical totals for the same cart.
type cartPricer struct {
	cfg     config.PricingConfig
	engine  Engine
	logger  EventLogger
	metrics pricingMetrics
}

func newCartPricer(cfg config.PricingConfig, engine Engine, meter metric.Meter, logger EventLogger) cartPricer {
	if engine == nil {
		engine = pricing.Engine{}
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = pricing.PriceModeExclusive
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	return cartPricer{cfg: cfg, engine: engine, logger: logger, metrics: newPricingMetrics(meter, logger)}
}

func (p cartPricer) modeFor(storeID string) pricing.PriceMode {
	return p.cfg.ModeFor(storeID)
}

func (p cartPricer) price(ctx context.Context, storeID string, items []domain.OrderLineItem, discount int64, operation string) (pricing.OrderTotals, error) {
	if len(items) > p.cfg.MaxItems {
		return pricing.OrderTotals{}, fmt.Errorf("%w: cart has %d items, limit is %d", ErrPricingInvalidInput, len(items), p.cfg.MaxItems)
	}
	lines := make([]pricing.LineItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return pricing.OrderTotals{}, fmt.Errorf("%w: item %d has no id", ErrPricingInvalidInput, i)
		}
		if _, dup := seen[id]; dup {
			return pricing.OrderTotals{}, fmt.Errorf("%w: duplicate item id %q", ErrPricingInvalidInput, id)
		}
		seen[id] = struct{}{}
		lines = append(lines, pricing.LineItem{
			ID:             id,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			TaxRatePercent: item.TaxRatePercent,
		})
	}

	mode := p.modeFor(storeID)
	totals, err := p.engine.Compute(pricing.Input{Items: lines, OrderDiscount: discount, Mode: mode})
	if err != nil {
		p.metrics.violation(ctx, mode)
		p.logger(ctx, "pricing_invariant_violation", map[string]any{
			"storeId":   storeID,
			"operation": operation,
			"mode":      string(mode),
			"items":     len(lines),
			"error":     err.Error(),
		})
		return pricing.OrderTotals{}, err
	}

	p.metrics.priced(ctx, operation, totals)
	if len(totals.Adjustments) > 0 {
		reasons := make([]string, 0, len(totals.Adjustments))
		for _, adj := range totals.Adjustments {
			reasons = append(reasons, string(adj.Reason))
		}
		p.logger(ctx, "pricing_input_normalized", map[string]any{
			"storeId":   storeID,
			"operation": operation,
			"reasons":   reasons,
		})
	}
	if totals.AppliedDiscount < totals.Discount {
		p.logger(ctx, "pricing_discount_capped", map[string]any{
			"storeId":         storeID,
			"discount":        totals.Discount,
			"appliedDiscount": totals.AppliedDiscount,
		})
	}
	return totals, nil
}

// pricingMetrics records engine usage through OpenTelemetry. Instruments that fail to register are
// skipped.
type pricingMetrics struct {
	computations metric.Int64Counter
	adjustments  metric.Int64Counter
	violations   metric.Int64Counter
}

func newPricingMetrics(meter metric.Meter, logger EventLogger) pricingMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	var m pricingMetrics
	var err error
	if m.computations, err = meter.Int64Counter("pricing.computations",
		metric.WithDescription("Carts priced by the engine")); err != nil {
		logger(context.Background(), "pricing_metric_warning", map[string]any{"instrument": "pricing.computations", "error": err.Error()})
	}
	if m.adjustments, err = meter.Int64Counter("pricing.adjustments",
		metric.WithDescription("Input fields normalized before pricing")); err != nil {
		logger(context.Background(), "pricing_metric_warning", map[string]any{"instrument": "pricing.adjustments", "error": err.Error()})
	}
	if m.violations, err = meter.Int64Counter("pricing.invariant_violations",
		metric.WithDescription("Engine results that failed verification")); err != nil {
		logger(context.Background(), "pricing_metric_warning", map[string]any{"instrument": "pricing.invariant_violations", "error": err.Error()})
	}
	return m
}

func (m pricingMetrics) priced(ctx context.Context, operation string, totals pricing.OrderTotals) {
	if m.computations != nil {
		m.computations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("mode", string(totals.Mode)),
		))
	}
	if m.adjustments != nil {
		for _, adj := range totals.Adjustments {
			m.adjustments.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(adj.Reason))))
		}
	}
}

func (m pricingMetrics) violation(ctx context.Context, mode pricing.PriceMode) {
	if m.violations != nil {
		m.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
	}
}
