package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// CartStore implements ports.CartStore as one Redis hash per customer
// (field = product id, value = quantity).
type CartStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewCartStore creates a new Redis-backed cart store.
func NewCartStore(client goredis.UniversalClient) *CartStore {
	return &CartStore{
		client: client,
		prefix: "settle:cart:",
	}
}

// GetCart returns the cart lines sorted by product id.
func (s *CartStore) GetCart(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+userID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cart get: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(fields))
	for field, value := range fields {
		productID, err := uuid.Parse(field)
		if err != nil {
			return nil, fmt.Errorf("redis cart: bad product id %q: %w", field, err)
		}
		qty, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis cart: bad quantity for %s: %w", field, err)
		}
		if qty <= 0 {
			continue
		}
		lines = append(lines, domain.CartLine{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ProductID.String() < lines[j].ProductID.String()
	})
	return lines, nil
}

// AddItem increments the quantity of a product in the cart.
func (s *CartStore) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int64) error {
	if err := s.client.HIncrBy(ctx, s.prefix+userID.String(), productID.String(), quantity).Err(); err != nil {
		return fmt.Errorf("redis cart add: %w", err)
	}
	return nil
}

// ClearCart drops the whole cart.
func (s *CartStore) ClearCart(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, s.prefix+userID.String()).Err(); err != nil {
		return fmt.Errorf("redis cart clear: %w", err)
	}
	return nil
}
