package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

type NotificationKind string

const (
	KindWebhook  NotificationKind = "webhook"
	KindCallback NotificationKind = "callback" // deprecated integration path
)

type TrustLevel string

const (
	TrustVerified TrustLevel = "verified" // MAC checked over the raw body
	TrustReduced  TrustLevel = "reduced"  // unsigned legacy callback
)

// Notification is the provider-neutral form every payload shape normalizes into.
type Notification struct {
	Provider          Provider
	ExternalReference string
	MerchantOrderID   string // our session id when echoed back by the provider
	ProviderEventID   string
	ReportedStatus    PaymentStatus // paid | failed | refunded | pending
	Amount            *int64        // minor units; nil when the payload carries none
	Currency          string
	Trust             TrustLevel
	Canonical         []byte // NormalizedPayload output
}

// DedupeKey identifies one real-world event across redeliveries.
func (n *Notification) DedupeKey() string {
	h := sha256.New()
	h.Write([]byte(n.Provider))
	h.Write([]byte{'|'})
	h.Write([]byte(n.ExternalReference))
	h.Write([]byte{'|'})
	h.Write([]byte(n.ProviderEventID))
	h.Write([]byte{'|'})
	h.Write(n.Canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizedPayload is the canonical encoding of the fields that make up a
// provider event. Volatile envelope fields (delivery timestamps, retry
// counters) are deliberately left out so redeliveries hash the same.
func NormalizedPayload(eventType string, status PaymentStatus, amount *int64, currency string) []byte {
	m := map[string]any{
		"event":    eventType,
		"status":   string(status),
		"currency": strings.ToUpper(currency),
	}
	if amount != nil {
		m["amount"] = *amount
	}
	b, _ := json.Marshal(m) // map keys are emitted sorted
	return b
}

func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

type NotificationOutcome string

const (
	OutcomeAccepted          NotificationOutcome = "accepted"
	OutcomeNoOp              NotificationOutcome = "no_op" // verified but not a legal transition
	OutcomeDuplicate         NotificationOutcome = "duplicate"
	OutcomeRejectedSignature NotificationOutcome = "rejected_signature"
	OutcomeRejectedUnknown   NotificationOutcome = "rejected_unknown_session"
	OutcomeRejectedMismatch  NotificationOutcome = "rejected_mismatch"
	OutcomeRejectedMalformed NotificationOutcome = "rejected_malformed"
	OutcomeUnsupported       NotificationOutcome = "unsupported"
	OutcomeIgnored           NotificationOutcome = "ignored"
	OutcomeError             NotificationOutcome = "error"
)

// NotificationEvent is one row of the notification ledger. Rows with an empty
// DedupeKey are audit entries for rejected deliveries and never block a retry.
type NotificationEvent struct {
	ID                string // ULID
	DedupeKey         string
	Provider          Provider
	SessionID         string
	ExternalReference string
	ProviderEventID   string
	ReportedStatus    PaymentStatus
	RawPayloadDigest  string
	Outcome           NotificationOutcome
	Detail            string
	ReceivedAt        time.Time
}
