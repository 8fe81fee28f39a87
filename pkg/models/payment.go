package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the remote-owned lifecycle state of a payment ticket.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether the status ends the confirmation poll. Statuses
// outside the known vocabulary are non-terminal so a gateway that grows new
// intermediate states keeps being polled instead of crashing the flow.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// PaymentPurpose selects the continuation that runs after a completed
// payment. It is inferred from the ticket's package type, never chosen by
// the client.
type PaymentPurpose string

const (
	PurposeContactUnlock  PaymentPurpose = "contact_unlock"
	PurposeServicePackage PaymentPurpose = "service_package"
	PurposeJobPackage     PaymentPurpose = "job_package"
)

// PurposeFromPackageType maps the gateway's packageType field to a purpose.
// Unrecognized package types fall through to the job-publication flow.
func PurposeFromPackageType(packageType string) PaymentPurpose {
	switch {
	case strings.Contains(packageType, "contact"):
		return PurposeContactUnlock
	case strings.Contains(packageType, "service"):
		return PurposeServicePackage
	default:
		return PurposeJobPackage
	}
}

// PaymentTicket is the gateway's view of one payment, correlated solely by
// the opaque token carried on the return URL. Display fields are reliable
// only once the status is terminal.
type PaymentTicket struct {
	Token             string          `json:"token"`
	PaymentID         string          `json:"paymentId"`
	Status            PaymentStatus   `json:"status"`
	PackageType       string          `json:"packageType"`
	Amount            decimal.Decimal `json:"amount"`
	PublicationsAdded int             `json:"publicationsAdded"`
	TargetName        string          `json:"targetName,omitempty"`
	TargetPhone       string          `json:"targetPhone,omitempty"`
}

// Purpose returns the continuation purpose for this ticket.
func (t *PaymentTicket) Purpose() PaymentPurpose {
	return PurposeFromPackageType(t.PackageType)
}

// PaymentContinuation records a consumed post-payment continuation so that
// re-entering the return URL, or confirming twice, never repeats the side
// effect.
type PaymentContinuation struct {
	Token      string    `json:"token" gorm:"primaryKey"`
	Purpose    string    `json:"purpose"`
	ConsumedAt time.Time `json:"consumed_at"`
}
