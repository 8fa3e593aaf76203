package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"payment-reconciler/internal/domain"
)

// Provider is the closed set of provider integrations, including the
// deprecated Kashier callback which shares sessions with kashier.
type Provider string

const (
	ProviderKashier       Provider = "kashier"        // current signed webhook
	ProviderKashierLegacy Provider = "kashier_legacy" // deprecated unsigned callback
	ProviderStripe        Provider = "stripe"         // Stripe Checkout
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderKashier, ProviderKashierLegacy, ProviderStripe:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// SessionProvider is the provider that owns the external reference namespace.
func (p Provider) SessionProvider() Provider {
	if p == ProviderKashierLegacy {
		return ProviderKashier
	}
	return p
}

type PaymentStatus string

const (
	PaymentStatusCreated  PaymentStatus = "created"  // persisted, provider not called yet
	PaymentStatusPending  PaymentStatus = "pending"  // provider session open; awaiting notification
	PaymentStatusPaid     PaymentStatus = "paid"     // verified success
	PaymentStatusFailed   PaymentStatus = "failed"   // declined, or session could not be opened
	PaymentStatusExpired  PaymentStatus = "expired"  // TTL elapsed without a notification
	PaymentStatusRefunded PaymentStatus = "refunded" // verified refund after paid
)

var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated: {PaymentStatusPending, PaymentStatusFailed},
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusExpired},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransitionTo reports whether s -> next is an edge of the lifecycle.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, n := range allowedTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for every status a notification can no longer move,
// paid included; paid -> refunded is handled by CanTransitionTo.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCreated, PaymentStatusPending:
		return false
	default:
		return true
	}
}

type FulfillmentState string

const (
	FulfillmentNotApplicable FulfillmentState = "not_applicable"
	FulfillmentPending       FulfillmentState = "pending"
	FulfillmentCompleted     FulfillmentState = "completed"
	FulfillmentFailed        FulfillmentState = "failed"
)

// SubjectRef names what is being bought. Exactly one of the IDs is set.
type SubjectRef struct {
	CourseID  string `json:"courseId,omitempty"`
	ProductID string `json:"productId,omitempty"`
}

func (r SubjectRef) Validate() error {
	hasCourse := strings.TrimSpace(r.CourseID) != ""
	hasProduct := strings.TrimSpace(r.ProductID) != ""
	switch {
	case hasCourse && hasProduct:
		return fmt.Errorf("courseId and productId are mutually exclusive")
	case !hasCourse && !hasProduct:
		return fmt.Errorf("one of courseId or productId is required")
	}
	return nil
}

// Kind returns "course" or "product".
func (r SubjectRef) Kind() string {
	if r.CourseID != "" {
		return "course"
	}
	return "product"
}

func (r SubjectRef) ID() string {
	if r.CourseID != "" {
		return r.CourseID
	}
	return r.ProductID
}

type Customer struct {
	ID    string `json:"id,omitempty"` // internal account id, empty for guests
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// PaymentSession is one attempt to collect money for a subject.
type PaymentSession struct {
	ID                string   // UUID, also sent to providers as merchant order id
	ExternalReference string   // provider session id; unique per provider once assigned
	Provider          Provider // kashier | stripe
	Subject           SubjectRef
	Amount            int64  // minor units
	Currency          string // ISO 4217, immutable
	Customer          Customer
	Status            PaymentStatus
	FulfillmentState  FulfillmentState
	CheckoutURL       string // hosted page the customer is redirected to
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
}

// NewPaymentSession validates the request and returns a session in the
// created state. Errors wrap domain.ErrInvalidRequest.
func NewPaymentSession(provider Provider, subject SubjectRef, amount int64, currency string, customer Customer) (*PaymentSession, error) {
	if err := subject.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter ISO code", domain.ErrInvalidRequest)
	}
	customer.Email = strings.TrimSpace(customer.Email)
	if customer.Email == "" {
		return nil, fmt.Errorf("%w: customer email is required", domain.ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(customer.Email); err != nil {
		return nil, fmt.Errorf("%w: customer email is invalid", domain.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	return &PaymentSession{
		ID:               uuid.NewString(),
		Provider:         provider.SessionProvider(),
		Subject:          SubjectRef{CourseID: strings.TrimSpace(subject.CourseID), ProductID: strings.TrimSpace(subject.ProductID)},
		Amount:           amount,
		Currency:         currency,
		Customer:         customer,
		Status:           PaymentStatusCreated,
		FulfillmentState: FulfillmentNotApplicable,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
