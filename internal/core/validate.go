package core

import (
	"regexp"
	"unicode/utf8"
)

// Violation messages shown to the user. The wording is part of the API
// surface; clients match on these strings.
const (
	ViolationTitle         = "Title must be 1-100 characters."
	ViolationAmount        = "Amount must be positive."
	ViolationDate          = "Date must be in dd-mm-yyyy format."
	ViolationCategory      = "Invalid category."
	ViolationPaymentMethod = "Invalid payment method."
)

// datePattern is a syntactic check only; calendar validity is not
// enforced, so "99-99-9999" passes.
var datePattern = regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`)

// Validate checks the record against the business rules in fixed order and
// collects every violation rather than stopping at the first. A valid
// record yields an empty slice. Pure function, no I/O.
//
// The same rules run before create and before update; partial updates are
// revalidated as full records.
func (e Expense) Validate() []string {
	violations := []string{}
	if e.Title == "" || utf8.RuneCountInString(e.Title) > 100 {
		violations = append(violations, ViolationTitle)
	}
	if e.Amount.Cents <= 0 {
		violations = append(violations, ViolationAmount)
	}
	if !datePattern.MatchString(e.Date) {
		violations = append(violations, ViolationDate)
	}
	if !e.Category.Valid() {
		violations = append(violations, ViolationCategory)
	}
	if !e.PaymentMethod.Valid() {
		violations = append(violations, ViolationPaymentMethod)
	}
	return violations
}
