package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "domain error", err: NewError(KindBadPrice, "build", "price mismatch"), want: KindBadPrice},
		{name: "wrapped domain error", err: fmt.Errorf("outer: %w", NewError(KindNoLines, "build", "")), want: KindNoLines},
		{name: "order not found", err: ErrOrderNotFound, want: KindNotFound},
		{name: "product not found wrapped", err: fmt.Errorf("lookup: %w", ErrProductNotFound), want: KindNotFound},
		{name: "version conflict", err: ErrOrderVersionConflict, want: KindConflict},
		{name: "user not found", err: ErrUserNotFound, want: KindNotFound},
		{name: "user exists", err: fmt.Errorf("insert: %w", ErrUserAlreadyExists), want: KindConflict},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTransient},
		{name: "canceled", err: fmt.Errorf("query: %w", context.Canceled), want: KindTransient},
		{name: "kind sentinel", err: ErrOutOfStock, want: KindOutOfStock},
		{name: "plain error", err: errors.New("boom"), want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := WrapError(KindNotFound, "order.get", ErrOrderNotFound, "order o-1 not found")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match kind sentinel")
	}
	if !errors.Is(err, ErrOrderNotFound) {
		t.Error("expected errors.Is to match cause")
	}
	if errors.Is(err, ErrBadPrice) {
		t.Error("unexpected match with another kind")
	}

	var domainErr *Error
	if !errors.As(fmt.Errorf("http: %w", err), &domainErr) {
		t.Fatal("expected errors.As to find *Error")
	}
	if domainErr.Kind != KindNotFound {
		t.Errorf("unexpected kind %v", domainErr.Kind)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "message and cause", err: WrapError(KindTransient, "order.create", context.DeadlineExceeded, "repository timeout"), want: "order.create: repository timeout: context deadline exceeded"},
		{name: "sentinel text", err: NewError(KindNoLines, "order.create", ""), want: "order.create: order must contain at least one line"},
		{name: "no op", err: NewError(KindBadPrice, "", "p1 price 9.99 != 10.00"), want: "p1 price 9.99 != 10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindUnknown:              false,
		KindNoLines:              false,
		KindBadPrice:             false,
		KindNotFound:             false,
		KindTransient:            true,
		KindNotificationDelivery: false,
		KindInvalidRequest:       false,
		KindOutOfStock:           false,
		KindConflict:             true,
	}
	for kind, want := range retryable {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
	if !IsRetryable(fmt.Errorf("save: %w", ErrOrderVersionConflict)) {
		t.Error("version conflict must be retryable")
	}
}

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
