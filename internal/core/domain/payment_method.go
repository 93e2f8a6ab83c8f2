package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentMethodType is the rail a payout is sent over.
type PaymentMethodType string

const (
	PaymentMethodBankTransfer   PaymentMethodType = "bank_transfer"
	PaymentMethodMobileWallet   PaymentMethodType = "mobile_wallet"
	PaymentMethodGatewayAccount PaymentMethodType = "gateway_account"
)

// ParsePaymentMethodType validates a raw method type.
func ParsePaymentMethodType(raw string) (PaymentMethodType, error) {
	t := PaymentMethodType(raw)
	switch t {
	case PaymentMethodBankTransfer, PaymentMethodMobileWallet, PaymentMethodGatewayAccount:
		return t, nil
	}
	return "", fmt.Errorf("unknown payment method type %q", raw)
}

// PaymentMethod is a vendor's payout destination.
type PaymentMethod struct {
	ID             uuid.UUID         `json:"id"`
	VendorID       uuid.UUID         `json:"vendor_id"`
	Type           PaymentMethodType `json:"type"`
	DestinationEnc string            `json:"-"` // AES-256-GCM encrypted, never expose
	Last4          string            `json:"last4"`
	Verified       bool              `json:"verified"`
	CreatedAt      time.Time         `json:"created_at"`
	VerifiedAt     *time.Time        `json:"verified_at,omitempty"`
}

// Masked returns the display form of the destination.
func (m *PaymentMethod) Masked() string {
	return "****" + m.Last4
}
