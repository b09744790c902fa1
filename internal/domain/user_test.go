package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name string
		user domain.User
		want []error
	}{
		{name: "valid", user: domain.User{Username: "juan", Email: "juan@test.com"}},
		{name: "short username", user: domain.User{Username: " jo ", Email: "juan@test.com"}, want: []error{domain.ErrUsernameInvalid}},
		{name: "bad email", user: domain.User{Username: "juan", Email: "juan-at-test"}, want: []error{domain.ErrUserEmailInvalid}},
		{name: "both", user: domain.User{}, want: []error{domain.ErrUsernameInvalid, domain.ErrUserEmailInvalid}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.user.Validate()
			if len(errs) != len(tt.want) {
				t.Fatalf("Validate() = %v, want %v", errs, tt.want)
			}
			for i := range errs {
				if !errors.Is(errs[i], tt.want[i]) {
					t.Errorf("error %d = %v, want %v", i, errs[i], tt.want[i])
				}
			}
		})
	}
}

func TestUserHasRole(t *testing.T) {
	user := domain.User{Roles: []string{domain.RoleUser}}
	if !user.HasRole(domain.RoleUser) {
		t.Error("expected user role")
	}
	if user.HasRole(domain.RoleAdmin) {
		t.Error("unexpected admin role")
	}
}
