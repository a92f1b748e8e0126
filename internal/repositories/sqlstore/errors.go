package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error implements repositories.RepositoryError for gorm backed repositories.
type Error struct {
	op   string
	err  error
	kind errorKind
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool { return e.kind == kindNotFound }

func (e *Error) IsConflict() bool { return e.kind == kindConflict }

func (e *Error) IsUnavailable() bool { return e.kind == kindUnavailable }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := kindOther
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		kind = kindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		kind = kindConflict
	case errors.Is(err, gorm.ErrInvalidDB), strings.Contains(err.Error(), "connection refused"):
		kind = kindUnavailable
	}
	return &Error{op: op, err: err, kind: kind}
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
