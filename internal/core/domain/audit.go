package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPayoutRequest   AuditAction = "PAYOUT_REQUEST"
	AuditActionPayoutCancel    AuditAction = "PAYOUT_CANCEL"
	AuditActionPayoutReview    AuditAction = "PAYOUT_REVIEW"
	AuditActionPayoutApprove   AuditAction = "PAYOUT_APPROVE"
	AuditActionPayoutReject    AuditAction = "PAYOUT_REJECT"
	AuditActionPayoutProcess   AuditAction = "PAYOUT_PROCESS"
	AuditActionMethodAdd       AuditAction = "PAYMENT_METHOD_ADD"
	AuditActionMethodVerify    AuditAction = "PAYMENT_METHOD_VERIFY"
	AuditActionWalletMature    AuditAction = "WALLET_MATURE"
	AuditActionSubOrderStatus  AuditAction = "SUB_ORDER_STATUS"
	AuditActionWebhookRejected AuditAction = "WEBHOOK_REJECTED"
	AuditActionPaymentAnomaly  AuditAction = "PAYMENT_ANOMALY"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
