package service

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const (
	orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	orderNumberAttempts = 5
)

// OrderServiceImpl implements ports.OrderService.
type OrderServiceImpl struct {
	orderRepo   ports.OrderRepository
	productRepo ports.ProductRepository
	vendorRepo  ports.VendorRepository
	cart        ports.CartStore
	transactor  ports.DBTransactor
	gateway     ports.PaymentGateway
	settler     *paymentSettler
	publisher   ports.EventPublisher
	pricing     PricingPolicy
	log         zerolog.Logger
}

// NewOrderService creates a new OrderServiceImpl.
func NewOrderService(
	orderRepo ports.OrderRepository,
	productRepo ports.ProductRepository,
	vendorRepo ports.VendorRepository,
	cart ports.CartStore,
	transactor ports.DBTransactor,
	gateway ports.PaymentGateway,
	ledger ports.LedgerService,
	publisher ports.EventPublisher,
	pricing PricingPolicy,
	maturationDelay time.Duration,
	log zerolog.Logger,
) *OrderServiceImpl {
	return &OrderServiceImpl{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		vendorRepo:  vendorRepo,
		cart:        cart,
		transactor:  transactor,
		gateway:     gateway,
		settler:     newPaymentSettler(orderRepo, ledger, maturationDelay, log),
		publisher:   publisher,
		pricing:     pricing,
		log:         log,
	}
}

// Checkout turns the customer's cart into one order with a sub-order per
// vendor. Stock, order and sub-orders are written in one transaction; the
// cart is cleared only after it commits.
func (s *OrderServiceImpl) Checkout(ctx context.Context, req ports.CheckoutRequest) (*domain.Order, []domain.VendorSubOrder, error) {
	cart, err := s.cart.GetCart(ctx, req.CustomerID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("read cart: %w", err))
	}
	cart = mergeCartLines(cart)
	if len(cart) == 0 {
		return nil, nil, apperror.ErrEmptyCart()
	}

	var (
		order *domain.Order
		subs  []domain.VendorSubOrder
	)
	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		order, subs, txErr = s.checkoutTx(ctx, tx, req, cart)
		return txErr
	})
	if err != nil {
		return nil, nil, asAppError(err)
	}

	if err := s.cart.ClearCart(ctx, req.CustomerID); err != nil {
		s.log.Warn().Err(err).Str("customer_id", req.CustomerID.String()).Msg("failed to clear cart after checkout")
	}

	ev := domain.NewSettlementEvent(domain.EventOrderCreated, order.ID)
	ev.Amount = order.Total
	ev.Currency = order.Currency
	s.publish(ctx, ev)

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Int("sub_orders", len(subs)).
		Int64("total", order.Total).
		Msg("order created")

	return order, subs, nil
}

func (s *OrderServiceImpl) checkoutTx(ctx context.Context, tx pgx.Tx, req ports.CheckoutRequest, cart []domain.CartLine) (*domain.Order, []domain.VendorSubOrder, error) {
	ids := make([]uuid.UUID, 0, len(cart))
	for _, l := range cart {
		ids = append(ids, l.ProductID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	products, err := s.productRepo.GetByIDsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("lock products: %w", err)
	}

	// Group lines by vendor in first-appearance order.
	var (
		vendorOrder []uuid.UUID
		byVendor    = make(map[uuid.UUID][]domain.OrderLine)
		lines       = make([]domain.OrderLine, 0, len(cart))
		subtotal    int64
	)
	for _, cl := range cart {
		p := products[cl.ProductID]
		if p == nil || !p.IsActive {
			return nil, nil, apperror.ErrProductUnavailable(cl.ProductID.String())
		}
		if p.Stock < cl.Quantity {
			return nil, nil, apperror.ErrInsufficientStock(cl.ProductID.String(), cl.Quantity, p.Stock)
		}
		line := domain.OrderLine{
			ProductID: p.ID,
			VendorID:  p.VendorID,
			UnitPrice: p.Price,
			Quantity:  cl.Quantity,
		}
		if _, seen := byVendor[p.VendorID]; !seen {
			vendorOrder = append(vendorOrder, p.VendorID)
		}
		byVendor[p.VendorID] = append(byVendor[p.VendorID], line)
		lines = append(lines, line)
		subtotal += line.LineTotal()
	}

	vendors, err := s.vendorRepo.GetByIDs(ctx, vendorOrder)
	if err != nil {
		return nil, nil, fmt.Errorf("load vendors: %w", err)
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.New(),
		CustomerID:    req.CustomerID,
		Lines:         lines,
		Subtotal:      subtotal,
		ShippingCost:  s.pricing.ShippingFor(subtotal),
		Tax:           s.pricing.TaxFor(subtotal),
		Currency:      s.pricing.Currency,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Total = order.Subtotal + order.ShippingCost + order.Tax

	weights := make([]int64, len(vendorOrder))
	for i, vid := range vendorOrder {
		for _, l := range byVendor[vid] {
			weights[i] += l.LineTotal()
		}
	}
	shippingShares := allocate(order.ShippingCost, weights)
	taxShares := allocate(order.Tax, weights)

	subs := make([]domain.VendorSubOrder, 0, len(vendorOrder))
	for i, vid := range vendorOrder {
		v := vendors[vid]
		if v == nil {
			return nil, nil, apperror.ErrNotFound("Vendor").WithDetail("vendor_id", vid.String())
		}
		commission, earnings, err := SplitCommission(weights[i], v.CommissionRate)
		if err != nil {
			return nil, nil, err
		}
		sub := domain.VendorSubOrder{
			ID:             uuid.New(),
			OrderID:        order.ID,
			VendorID:       vid,
			Lines:          byVendor[vid],
			Subtotal:       weights[i],
			CommissionRate: v.CommissionRate,
			Commission:     commission,
			VendorEarnings: earnings,
			ShippingShare:  shippingShares[i],
			TaxShare:       taxShares[i],
			Status:         domain.SubOrderStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := sub.CheckConservation(); err != nil {
			return nil, nil, apperror.ErrLedgerInvariant(err)
		}
		subs = append(subs, sub)
	}

	order.OrderNumber, err = s.newOrderNumber(ctx, tx, now)
	if err != nil {
		return nil, nil, err
	}
	if err := order.CheckTotals(); err != nil {
		return nil, nil, apperror.ErrLedgerInvariant(err)
	}

	for _, id := range ids {
		qty := quantityOf(cart, id)
		if err := s.productRepo.AdjustStock(ctx, tx, id, -qty, qty); err != nil {
			return nil, nil, fmt.Errorf("decrement stock: %w", err)
		}
	}

	if err := s.orderRepo.Create(ctx, tx, order, subs); err != nil {
		return nil, nil, fmt.Errorf("insert order: %w", err)
	}
	return order, subs, nil
}

func (s *OrderServiceImpl) newOrderNumber(ctx context.Context, tx pgx.Tx, now time.Time) (string, error) {
	for range orderNumberAttempts {
		candidate := generateOrderNumber(now)
		exists, err := s.orderRepo.OrderNumberExists(ctx, tx, candidate)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no unique order number after %d attempts", orderNumberAttempts)
}

// generateOrderNumber returns ORD-YYMM-XXXXXX.
func generateOrderNumber(now time.Time) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = orderNumberAlphabet[rand.IntN(len(orderNumberAlphabet))]
	}
	return "ORD-" + now.Format("0601") + "-" + string(suffix)
}

// mergeCartLines folds duplicate products and drops non-positive quantities,
// keeping first-appearance order.
func mergeCartLines(cart []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(cart))
	index := make(map[uuid.UUID]int, len(cart))
	for _, l := range cart {
		if l.Quantity <= 0 {
			continue
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

func quantityOf(cart []domain.CartLine, productID uuid.UUID) int64 {
	for _, l := range cart {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

// GetOrder returns an order owned by customerID with its sub-orders.
// Orders of other customers are reported as not found.
func (s *OrderServiceImpl) GetOrder(ctx context.Context, customerID, orderID uuid.UUID) (*domain.Order, []domain.VendorSubOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil || order.CustomerID != customerID {
		return nil, nil, apperror.ErrNotFound("Order")
	}
	subs, err := s.orderRepo.ListSubOrders(ctx, orderID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("list sub-orders: %w", err))
	}
	return order, subs, nil
}

// UpdateSubOrderStatus applies a vendor fulfillment transition and rolls the
// result up to the parent order. Moving forward requires a paid order;
// cancelling is only possible before payment and cancels the whole order.
// The order row is locked before the sub-order, like every other path that
// holds both.
func (s *OrderServiceImpl) UpdateSubOrderStatus(ctx context.Context, vendorID, subOrderID uuid.UUID, status domain.SubOrderStatus) (*domain.VendorSubOrder, error) {
	peek, err := s.orderRepo.GetSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get sub-order: %w", err))
	}
	if peek == nil {
		return nil, apperror.ErrNotFound("Sub-order")
	}
	if peek.VendorID != vendorID {
		return nil, apperror.ErrForbidden()
	}

	var (
		result    *domain.VendorSubOrder
		cancelled *domain.Order
	)
	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		cancelled = nil

		order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, peek.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil {
			return apperror.ErrNotFound("Order")
		}

		sub, err := s.orderRepo.GetSubOrderForUpdate(ctx, tx, subOrderID)
		if err != nil {
			return fmt.Errorf("lock sub-order: %w", err)
		}
		if sub == nil || sub.OrderID != order.ID {
			return apperror.ErrNotFound("Sub-order")
		}
		if !sub.Status.CanTransition(status) {
			return apperror.ErrInvalidTransition(string(sub.Status), string(status))
		}

		if status == domain.SubOrderStatusCancelled {
			if order.PaymentStatus == domain.PaymentStatusPaid || order.Status == domain.OrderStatusCancelled {
				return apperror.ErrInvalidTransition(string(sub.Status), string(status))
			}
			if err := s.cancelOrderTx(ctx, tx, order); err != nil {
				return err
			}
			cancelled = order
			sub.Status = domain.SubOrderStatusCancelled
			result = sub
			return nil
		}

		if order.PaymentStatus != domain.PaymentStatusPaid {
			return apperror.ErrInvalidTransition(string(sub.Status), string(status)).
				WithDetail("payment_status", string(order.PaymentStatus))
		}

		sub.Status = status
		if err := s.orderRepo.UpdateSubOrder(ctx, tx, sub); err != nil {
			return fmt.Errorf("update sub-order: %w", err)
		}
		result = sub

		siblings, err := s.orderRepo.SubOrdersForUpdate(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("lock sibling sub-orders: %w", err)
		}
		for i := range siblings {
			if siblings[i].ID == sub.ID {
				siblings[i].Status = sub.Status
			}
		}
		if next, ok := domain.RollUpOrderStatus(siblings); ok && next != order.Status && order.Status.CanTransition(next) {
			order.Status = next
			if err := s.orderRepo.Update(ctx, tx, order); err != nil {
				return fmt.Errorf("roll up order status: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	if cancelled != nil {
		s.afterCancel(ctx, cancelled)
	}

	s.log.Info().
		Str("sub_order_id", subOrderID.String()).
		Str("vendor_id", vendorID.String()).
		Str("status", string(result.Status)).
		Msg("sub-order status updated")
	return result, nil
}

// cancelOrderTx cancels an unpaid order and all its sub-orders and puts the
// reserved stock back. The caller must hold the order row lock.
func (s *OrderServiceImpl) cancelOrderTx(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	subs, err := s.orderRepo.SubOrdersForUpdate(ctx, tx, order.ID)
	if err != nil {
		return fmt.Errorf("lock sub-orders: %w", err)
	}
	for i := range subs {
		if subs[i].Status == domain.SubOrderStatusCancelled {
			continue
		}
		subs[i].Status = domain.SubOrderStatusCancelled
		if err := s.orderRepo.UpdateSubOrder(ctx, tx, &subs[i]); err != nil {
			return fmt.Errorf("cancel sub-order: %w", err)
		}
	}

	restock := make(map[uuid.UUID]int64, len(order.Lines))
	ids := make([]uuid.UUID, 0, len(order.Lines))
	for _, l := range order.Lines {
		if _, ok := restock[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		restock[l.ProductID] += l.Quantity
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for _, id := range ids {
		if err := s.productRepo.AdjustStock(ctx, tx, id, restock[id], -restock[id]); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	now := time.Now().UTC()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	if err := s.orderRepo.Update(ctx, tx, order); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// afterCancel runs the best-effort follow-ups of a committed cancellation.
func (s *OrderServiceImpl) afterCancel(ctx context.Context, order *domain.Order) {
	if order.PaymentIntentRef != nil {
		err := s.gateway.CancelIntent(ctx, *order.PaymentIntentRef, domain.BuildCancelIdempotencyKey(order.ID))
		if err != nil {
			s.log.Warn().Err(err).
				Str("order_id", order.ID.String()).
				Str("intent_ref", *order.PaymentIntentRef).
				Msg("failed to cancel payment intent")
		}
	}
	ev := domain.NewSettlementEvent(domain.EventOrderCancelled, order.ID)
	ev.Amount = order.Total
	ev.Currency = order.Currency
	s.publish(ctx, ev)
}

// ExpireUnpaid cancels orderID if it is still unpaid after the order TTL.
// An order with a payment intent is checked against the gateway first: a
// captured payment whose webhook has not arrived yet settles the order
// instead of cancelling it.
func (s *OrderServiceImpl) ExpireUnpaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	current, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if current == nil || !isExpirable(current, s.pricing.OrderTTL) {
		return false, nil
	}
	if current.PaymentIntentRef != nil {
		intent, err := s.gateway.RetrieveIntent(ctx, *current.PaymentIntentRef)
		if err != nil {
			return false, gatewayError(err)
		}
		if intent.Status == ports.IntentStatusSucceeded {
			return false, s.settleCaptured(ctx, orderID, intent)
		}
	}

	var expired *domain.Order
	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		expired = nil
		order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil || !isExpirable(order, s.pricing.OrderTTL) {
			return nil
		}
		if err := s.cancelOrderTx(ctx, tx, order); err != nil {
			return err
		}
		expired = order
		return nil
	})
	if err != nil {
		return false, asAppError(err)
	}
	if expired == nil {
		return false, nil
	}

	s.afterCancel(ctx, expired)
	s.log.Info().
		Str("order_id", expired.ID.String()).
		Str("order_number", expired.OrderNumber).
		Msg("expired unpaid order")
	return true, nil
}

// settleCaptured applies a succeeded intent found by the expiry sweep.
func (s *OrderServiceImpl) settleCaptured(ctx context.Context, orderID uuid.UUID, intent *ports.Intent) error {
	var events []domain.SettlementEvent
	err := s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events = nil
		order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil {
			return nil
		}
		_, events, err = s.settler.succeededTx(ctx, tx, order, intent.TransactionID)
		return err
	})
	if err != nil {
		return asAppError(err)
	}

	s.publish(ctx, events...)
	s.log.Info().
		Str("order_id", orderID.String()).
		Str("intent_ref", intent.Ref).
		Msg("expiring order was already paid; settled from gateway")
	return nil
}

func isExpirable(o *domain.Order, ttl time.Duration) bool {
	unpaid := o.PaymentStatus == domain.PaymentStatusPending || o.PaymentStatus == domain.PaymentStatusFailed
	return unpaid && o.Status != domain.OrderStatusCancelled && time.Since(o.CreatedAt) > ttl
}

// SweepExpired expires up to limit unpaid orders past their TTL.
func (s *OrderServiceImpl) SweepExpired(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-s.pricing.OrderTTL)
	ids, err := s.orderRepo.ListExpiredUnpaid(ctx, cutoff, limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list expired orders: %w", err))
	}

	var (
		count int
		errs  error
	)
	for _, id := range ids {
		ok, err := s.ExpireUnpaid(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		if ok {
			count++
		}
	}
	return count, errs
}

func (s *OrderServiceImpl) publish(ctx context.Context, events ...domain.SettlementEvent) {
	publishEvents(ctx, s.publisher, s.log, events...)
}

// publishEvents ships committed events; failures are logged and never undo the commit.
func publishEvents(ctx context.Context, p ports.EventPublisher, log zerolog.Logger, events ...domain.SettlementEvent) {
	if p == nil || len(events) == 0 {
		return
	}
	if err := p.Publish(ctx, events...); err != nil {
		log.Warn().Err(err).Int("events", len(events)).Msg("failed to publish settlement events")
	}
}
