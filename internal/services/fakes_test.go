package services

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/display"
)

var fixedNow = time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type stubRepoError struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.err.Error() }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

// memoryOrderRepo keeps orders in insertion order and pages them by offset.
type memoryOrderRepo struct {
	mu        sync.Mutex
	orders    []domain.Order
	insertErr error
	listErr   error
	marked    []string
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, existing := range r.orders {
		if existing.ID == order.ID {
			return &stubRepoError{err: errors.New("duplicate"), conflict: true}
		}
	}
	r.orders = append(r.orders, order)
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.ID == orderID {
			return order, nil
		}
	}
	return domain.Order{}, &stubRepoError{err: errors.New("missing"), notFound: true}
}

func (r *memoryOrderRepo) List(_ context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return domain.CursorPage[domain.Order]{}, r.listErr
	}
	var matched []domain.Order
	for _, order := range r.orders {
		if filter.StoreID != "" && order.StoreID != filter.StoreID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		matched = append(matched, order)
	}
	offset := 0
	if filter.Pagination.PageToken != "" {
		offset, _ = strconv.Atoi(filter.Pagination.PageToken)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = len(matched)
	}
	end := min(offset+size, len(matched))
	page := domain.CursorPage[domain.Order]{Items: matched[offset:end]}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (r *memoryOrderRepo) MarkReconciled(_ context.Context, orderIDs []string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := 0
	for i := range r.orders {
		if slices.Contains(orderIDs, r.orders[i].ID) && r.orders[i].Status == domain.OrderStatusPersisted {
			r.orders[i].Status = domain.OrderStatusReconciled
			reconciledAt := at
			r.orders[i].ReconciledAt = &reconciledAt
			r.marked = append(r.marked, r.orders[i].ID)
			updated++
		}
	}
	return updated, nil
}

type recordingDisplay struct {
	mu     sync.Mutex
	events []display.Event
	err    error
}

func (d *recordingDisplay) Publish(_ context.Context, event display.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

type recordingOrderEvents struct {
	orders []domain.Order
	err    error
}

func (e *recordingOrderEvents) PublishOrderPersisted(_ context.Context, order domain.Order) error {
	e.orders = append(e.orders, order)
	return e.err
}

type capturedEvent struct {
	name   string
	fields map[string]any
}

type captureLogger struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (l *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, capturedEvent{name: event, fields: fields})
}

func (l *captureLogger) find(name string) (capturedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, event := range l.events {
		if event.name == name {
			return event, true
		}
	}
	return capturedEvent{}, false
}
