package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern      = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	postalCodePattern = regexp.MustCompile(`^\d{5}$`)
)

const minTextFieldLen = 3

// Address — адрес доставки в снимке клиента.
type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	City       string `json:"city"`
	Province   string `json:"province"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

// Customer — контактные данные и адрес клиента на момент оформления заказа.
type Customer struct {
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    string  `json:"phone"`
	Address  Address `json:"address"`
}

// FieldViolation описывает нарушение правила для конкретного поля.
type FieldViolation struct {
	Field  string
	Reason string
}

func (v FieldViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// Validate проверяет снимок клиента и возвращает все найденные нарушения.
func (c Customer) Validate() []error {
	var errs []error

	minLen := func(field, value string) {
		if utf8.RuneCountInString(strings.TrimSpace(value)) < minTextFieldLen {
			errs = append(errs, FieldViolation{Field: field, Reason: fmt.Sprintf("must be at least %d characters", minTextFieldLen)})
		}
	}
	notBlank := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, FieldViolation{Field: field, Reason: "must not be blank"})
		}
	}

	minLen("customer.full_name", c.FullName)
	if !emailPattern.MatchString(strings.TrimSpace(c.Email)) {
		errs = append(errs, FieldViolation{Field: "customer.email", Reason: "invalid format"})
	}
	notBlank("customer.phone", c.Phone)

	a := c.Address
	minLen("customer.address.street", a.Street)
	notBlank("customer.address.number", a.Number)
	minLen("customer.address.city", a.City)
	minLen("customer.address.province", a.Province)
	minLen("customer.address.country", a.Country)
	if !postalCodePattern.MatchString(a.PostalCode) {
		errs = append(errs, FieldViolation{Field: "customer.address.postal_code", Reason: "must be exactly 5 digits"})
	}

	return errs
}
