package models

// PaymentStatus is the lifecycle state of a payment, as stored and as reported by the gateway.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Terminal reports whether no further status change is expected.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment tags prefix merchant references and select the finalizer.
const (
	PaymentTagEvent      = "EVT"
	PaymentTagMembership = "MEM"
)

// PaymentIntent is the transient record of a hosted payment. It is never persisted on its
// own; its identifiers are copied onto the registration or membership application.
type PaymentIntent struct {
	RedirectURL       string `json:"redirect_url"`
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	Paid              bool   `json:"paid"`
}
