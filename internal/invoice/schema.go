// Package invoice holds the form schema for invoice mutations: it turns raw
// submitted strings into a typed invoice or a per-field error report.
package invoice

import (
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"invoicer/internal/domain"
)

// Form field names.
const (
	FieldID         = "id"
	FieldCustomerID = "customerId"
	FieldAmount     = "amount"
	FieldStatus     = "status"
	FieldDate       = "date"
)

const (
	MsgCustomer     = "Please select a customer."
	MsgAmount       = "Please enter an amount greater than $0."
	MsgAmountTooBig = "Please enter a smaller amount."
	MsgStatus       = "Please select an invoice status."
)

var hundred = decimal.NewFromInt(100)

// Draft is the as-submitted form, before any coercion.
type Draft struct {
	ID         string
	CustomerID string
	Amount     string
	Status     string
	Date       string
}

// DraftFromForm builds a Draft from decoded form values. A repeated field
// keeps its last value.
func DraftFromForm(form url.Values) Draft {
	last := func(key string) string {
		vs := form[key]
		if len(vs) == 0 {
			return ""
		}
		return vs[len(vs)-1]
	}
	return Draft{
		ID:         last(FieldID),
		CustomerID: last(FieldCustomerID),
		Amount:     last(FieldAmount),
		Status:     last(FieldStatus),
		Date:       last(FieldDate),
	}
}

// Validated is an invoice that satisfies the schema. It is never mutated
// after Validate returns it.
type Validated struct {
	CustomerID  string
	Amount      decimal.Decimal
	AmountCents int64
	Status      string
}

// FieldErrors maps a field name to its messages, in rule order.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Fields returns the failing field names in sorted order.
func (f FieldErrors) Fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidationError is returned by Validate when one or more fields fail.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return "invalid invoice fields: " + strings.Join(e.Fields.Fields(), ", ")
}

// Validate checks every field independently and reports all failures at
// once. It never looks at Draft.ID or Draft.Date.
func Validate(d Draft) (Validated, error) {
	errs := FieldErrors{}
	var v Validated

	v.CustomerID = strings.TrimSpace(d.CustomerID)
	if v.CustomerID == "" {
		errs.add(FieldCustomerID, MsgCustomer)
	}

	amount, cents, msg := parseAmount(d.Amount)
	if msg != "" {
		errs.add(FieldAmount, msg)
	} else {
		v.Amount = amount
		v.AmountCents = cents
	}

	v.Status = strings.TrimSpace(d.Status)
	if v.Status != domain.StatusPending && v.Status != domain.StatusPaid {
		errs.add(FieldStatus, MsgStatus)
	}

	if len(errs) > 0 {
		return Validated{}, &ValidationError{Fields: errs}
	}
	return v, nil
}

// maxAmountLen bounds the raw amount so parsing stays cheap.
const maxAmountLen = 64

// parseAmount coerces the raw amount. Blank input counts as zero. The
// magnitude is checked from the coefficient and exponent before any
// rescaling, since exponent notation ("1e40000000") is accepted.
func parseAmount(raw string) (decimal.Decimal, int64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, 0, MsgAmount
	}
	if len(raw) > maxAmountLen {
		return decimal.Zero, 0, MsgAmountTooBig
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, 0, MsgAmount
	}
	// value < 10^magnitude, with magnitude the count of integer digits
	magnitude := int64(len(amount.Coefficient().String())) + int64(amount.Exponent())
	switch {
	case magnitude > 19:
		return decimal.Zero, 0, MsgAmountTooBig
	case magnitude < -3:
		return decimal.Zero, 0, MsgAmount
	}
	scaled := amount.Mul(hundred).Round(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return decimal.Zero, 0, MsgAmountTooBig
	}
	cents := scaled.IntPart()
	if cents <= 0 {
		return decimal.Zero, 0, MsgAmount
	}
	return amount, cents, ""
}
