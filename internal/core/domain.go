package core

import (
	"errors"
	"strings"
)

const (
	CategoryFood     Category = "Food"
	CategoryTravel   Category = "Travel"
	CategoryShopping Category = "Shopping"
	CategoryBills    Category = "Bills"
	CategoryOthers   Category = "Others"
)

const (
	PaymentCash   PaymentMethod = "Cash"
	PaymentCard   PaymentMethod = "Card"
	PaymentOnline PaymentMethod = "Online"
)

type (
	Category      string
	PaymentMethod string

	// Share is the portion of an expense attributed to a non-owner
	// participant. Name is denormalized display data only; being listed
	// grants no read access.
	Share struct {
		UserID string `json:"userId"`
		Name   string `json:"name,omitempty"`
		Share  Money  `json:"share"`
	}

	Expense struct {
		ID            string        `json:"id"`
		Title         string        `json:"title"`
		Amount        Money         `json:"amount"`
		Date          string        `json:"date"` // dd-mm-yyyy
		Category      Category      `json:"category"`
		PaymentMethod PaymentMethod `json:"paymentMethod"`
		UserID        string        `json:"userId"`
		SharedWith    []Share       `json:"sharedWith"`
		CreatedAt     string        `json:"createdAt,omitempty"` // ISO-8601, set once
	}

	User struct {
		ID             string `json:"id"`
		Email          string `json:"email"`
		Name           string `json:"name,omitempty"`
		ProfilePicture string `json:"profilePicture,omitempty"`
	}
)

// Categories returns the closed category enumeration in display order.
func Categories() []Category {
	return []Category{CategoryFood, CategoryTravel, CategoryShopping, CategoryBills, CategoryOthers}
}

// PaymentMethods returns the closed payment-method enumeration.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{PaymentCash, PaymentCard, PaymentOnline}
}

func (c Category) Valid() bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

func (p PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods() {
		if p == v {
			return true
		}
	}
	return false
}

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNotFound        = errors.New("expense not found")
)

// ValidationError carries the ordered violation list produced by
// Expense.Validate. It is raised before any I/O is attempted.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, " ")
}

// TransportError wraps a network or backing-store failure, passing the
// backend message through when one is available.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "transport failure"
}

func (e *TransportError) Unwrap() error { return e.Err }
