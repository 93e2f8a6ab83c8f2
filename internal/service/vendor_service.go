package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const minDestinationLength = 4

type vendorService struct {
	methodRepo ports.PaymentMethodRepository
	encSvc     ports.EncryptionService
	log        zerolog.Logger
}

// NewVendorService creates a new vendor payment method service.
func NewVendorService(
	methodRepo ports.PaymentMethodRepository,
	encSvc ports.EncryptionService,
	log zerolog.Logger,
) ports.VendorService {
	return &vendorService{
		methodRepo: methodRepo,
		encSvc:     encSvc,
		log:        log,
	}
}

// AddPaymentMethod stores an unverified payout destination. The destination
// is encrypted bound to the vendor id and only its last four characters are
// kept in clear.
func (s *vendorService) AddPaymentMethod(ctx context.Context, vendorID uuid.UUID, methodType domain.PaymentMethodType, destination string) (*domain.PaymentMethod, error) {
	if _, err := domain.ParsePaymentMethodType(string(methodType)); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	destination = strings.TrimSpace(destination)
	if len(destination) < minDestinationLength {
		return nil, apperror.Validation(fmt.Sprintf("destination must be at least %d characters", minDestinationLength))
	}

	enc, err := s.encSvc.Encrypt(destination, vendorID.String())
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	method := &domain.PaymentMethod{
		ID:             uuid.New(),
		VendorID:       vendorID,
		Type:           methodType,
		DestinationEnc: enc,
		Last4:          destination[len(destination)-minDestinationLength:],
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.methodRepo.Create(ctx, method); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("insert payment method: %w", err))
	}

	s.log.Info().
		Str("vendor_id", vendorID.String()).
		Str("method_id", method.ID.String()).
		Str("type", string(methodType)).
		Msg("payment method added")
	return method, nil
}

func (s *vendorService) ListPaymentMethods(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentMethod, error) {
	methods, err := s.methodRepo.ListByVendor(ctx, vendorID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	return methods, nil
}

// VerifyPaymentMethod marks a method verified. Verifying twice is a no-op.
func (s *vendorService) VerifyPaymentMethod(ctx context.Context, adminID, methodID uuid.UUID) (*domain.PaymentMethod, error) {
	method, err := s.methodRepo.GetByID(ctx, methodID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if method == nil {
		return nil, apperror.ErrNotFound("Payment method")
	}
	if method.Verified {
		return method, nil
	}

	now := time.Now().UTC()
	if err := s.methodRepo.MarkVerified(ctx, methodID, now); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify payment method: %w", err))
	}
	method.Verified = true
	method.VerifiedAt = &now

	s.log.Info().
		Str("method_id", methodID.String()).
		Str("admin_id", adminID.String()).
		Msg("payment method verified")
	return method, nil
}
