package service

import (
	"context"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	walletRepo ports.WalletRepository
	currency   string
}

// NewReportingService creates a new reporting service.
func NewReportingService(walletRepo ports.WalletRepository, currency string) ports.ReportingService {
	return &reportingService{
		walletRepo: walletRepo,
		currency:   currency,
	}
}

// GetWallet returns the vendor's balances; a vendor that was never credited
// gets an empty wallet.
func (s *reportingService) GetWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByVendorID(ctx, vendorID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return domain.NewWallet(vendorID, s.currency), nil
	}
	return wallet, nil
}

// ListEntries returns a page of the vendor's wallet journal, newest first.
func (s *reportingService) ListEntries(ctx context.Context, vendorID uuid.UUID, page, pageSize int) ([]domain.WalletEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}

	entries, total, err := s.walletRepo.ListEntries(ctx, vendorID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return entries, total, nil
}
