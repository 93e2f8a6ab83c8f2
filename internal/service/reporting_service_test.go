package service

import (
	"context"
	"errors"
	"testing"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports/mocks"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestReportingService_GetWallet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
	svc := NewReportingService(mockWalletRepo, "USD")

	vendorID := uuid.New()
	expected := &domain.Wallet{VendorID: vendorID, Currency: "USD", AvailableBalance: 900, TotalCredited: 900}
	mockWalletRepo.EXPECT().GetByVendorID(gomock.Any(), vendorID).Return(expected, nil)

	wallet, err := svc.GetWallet(context.Background(), vendorID)
	require.NoError(t, err)
	assert.Equal(t, expected, wallet)
}

func TestReportingService_GetWallet_NeverCredited(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
	svc := NewReportingService(mockWalletRepo, "EUR")

	vendorID := uuid.New()
	mockWalletRepo.EXPECT().GetByVendorID(gomock.Any(), vendorID).Return(nil, nil)

	wallet, err := svc.GetWallet(context.Background(), vendorID)
	require.NoError(t, err)
	assert.Equal(t, vendorID, wallet.VendorID)
	assert.Equal(t, "EUR", wallet.Currency)
	assert.Zero(t, wallet.AvailableBalance)
}

func TestReportingService_GetWallet_DBError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
	svc := NewReportingService(mockWalletRepo, "USD")

	mockWalletRepo.EXPECT().GetByVendorID(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, err := svc.GetWallet(context.Background(), uuid.New())
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_001", appErr.Code)
}

func TestReportingService_ListEntries_Pagination(t *testing.T) {
	tests := []struct {
		name       string
		page       int
		pageSize   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", 0, 0, 20, 0},
		{"third page", 3, 10, 10, 20},
		{"clamped size", 1, 500, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
			svc := NewReportingService(mockWalletRepo, "USD")

			vendorID := uuid.New()
			entries := []domain.WalletEntry{{ID: uuid.New(), VendorID: vendorID, EntryType: domain.EntryTypeCreditPending, Amount: 90}}
			mockWalletRepo.EXPECT().ListEntries(gomock.Any(), vendorID, tt.wantLimit, tt.wantOffset).Return(entries, int64(41), nil)

			got, total, err := svc.ListEntries(context.Background(), vendorID, tt.page, tt.pageSize)
			require.NoError(t, err)
			assert.Equal(t, entries, got)
			assert.Equal(t, int64(41), total)
		})
	}
}
