package order_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/coupon"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/event"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/order"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockOrderRepository) GetOrderByID(ctx context.Context, id string) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) ListOrders(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

// UpdateOrderStatus runs guard against a copy of the order configured as the first return value.
func (m *MockOrderRepository) UpdateOrderStatus(ctx context.Context, id string, guard order.StatusGuard) (*order.Order, error) {
	args := m.Called(ctx, id, guard)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	current := *args.Get(0).(*order.Order)
	update, err := guard(&current)
	if err != nil {
		return nil, err
	}
	current.Status = update.Status
	current.PaymentStatus = update.PaymentStatus
	current.UpdatedAt = update.UpdatedAt
	return &current, nil
}

func (m *MockOrderRepository) SetPreferenceID(ctx context.Context, id, preferenceID string) error {
	return m.Called(ctx, id, preferenceID).Error(0)
}

func (m *MockOrderRepository) ApplyPaymentEvent(ctx context.Context, orderID string, ev order.PaymentEvent, guard order.PaymentGuard) (*order.Order, error) {
	args := m.Called(ctx, orderID, ev, guard)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepository) Stats(ctx context.Context, since time.Time) (*order.Stats, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Stats), args.Error(1)
}

type MockPreferences struct {
	mock.Mock
}

func (m *MockPreferences) CreatePreference(ctx context.Context, o *order.Order) (*order.Preference, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Preference), args.Error(1)
}

type MockCoupons struct {
	mock.Mock
}

func (m *MockCoupons) Quote(ctx context.Context, code string, subtotal, shipping decimal.Decimal) (*coupon.Quote, error) {
	args := m.Called(ctx, code, subtotal, shipping)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Quote), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStatusChanged(ctx context.Context, ev event.StatusChanged) error {
	return m.Called(ctx, ev).Error(0)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testPricing = order.Pricing{
	ShippingFlatRate: dec("20.00"),
	CustomizationFee: dec("25.00"),
	Currency:         "BRL",
}

func checkoutInput(couponCode string) order.CheckoutInput {
	return order.CheckoutInput{
		Customer:        order.Customer{Name: "Ana Souza", Email: "ana@example.com"},
		ShippingAddress: order.Address{Street: "Rua A", Number: "10", City: "Recife", State: "PE", ZipCode: "50000-000"},
		Items: []order.OrderItem{
			{ProductID: "jersey-home", Title: "Home Jersey", UnitPrice: dec("199.90"), Quantity: 2, Size: "M", CustomName: "ANA", CustomNumber: "10"},
			{ProductID: "socks", Title: "Socks", UnitPrice: dec("29.90"), Quantity: 1},
		},
		CouponCode: couponCode,
	}
}

func TestOrderService_Checkout_Pricing(t *testing.T) {
	tests := []struct {
		name         string
		couponCode   string
		quote        *coupon.Quote
		wantDiscount string
		wantTotal    string
	}{
		{
			name:         "no coupon",
			wantDiscount: "0",
			// 399.80 + 29.90 items, 50.00 customization, 20.00 shipping
			wantTotal: "499.70",
		},
		{
			name:         "fixed coupon",
			couponCode:   " off50 ",
			quote:        &coupon.Quote{Code: "OFF50", DiscountType: coupon.DiscountFixed, Discount: dec("50")},
			wantDiscount: "50",
			wantTotal:    "449.70",
		},
		{
			name:         "free shipping",
			couponCode:   "FRETE",
			quote:        &coupon.Quote{Code: "FRETE", DiscountType: coupon.DiscountFreeShipping, Discount: dec("20"), FreeShipping: true},
			wantDiscount: "20",
			wantTotal:    "479.70",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			prefs := new(MockPreferences)
			coupons := new(MockCoupons)
			svc := order.NewService(repo, prefs, coupons, new(MockPublisher), testPricing)

			if tt.quote != nil {
				coupons.On("Quote", mock.Anything, tt.quote.Code, mock.Anything, mock.Anything).Return(tt.quote, nil).Once()
			}
			repo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*order.Order")).Return(nil).Once()
			prefs.On("CreatePreference", mock.Anything, mock.AnythingOfType("*order.Order")).
				Return(&order.Preference{ID: "pref-1", InitPoint: "https://pay.example/checkout?pref=pref-1"}, nil).Once()
			repo.On("SetPreferenceID", mock.Anything, mock.Anything, "pref-1").Return(nil).Once()

			result, err := svc.Checkout(context.Background(), checkoutInput(tt.couponCode))
			require.NoError(t, err)

			o := result.Order
			assert.Equal(t, order.StatusPending, o.Status)
			assert.Equal(t, order.PaymentPending, o.PaymentStatus)
			assert.True(t, strings.HasPrefix(o.OrderNumber, "SPT-"))
			assert.Len(t, o.OrderNumber, len("SPT-")+8)
			assert.NotEmpty(t, o.ID)
			assert.True(t, dec("429.70").Equal(o.Subtotal), "subtotal: %s", o.Subtotal)
			assert.True(t, dec("50").Equal(o.CustomizationFee), "customization: %s", o.CustomizationFee)
			assert.True(t, dec(tt.wantDiscount).Equal(o.Discount), "discount: %s", o.Discount)
			assert.True(t, dec(tt.wantTotal).Equal(o.TotalPrice), "total: %s", o.TotalPrice)
			assert.Equal(t, "pref-1", o.PreferenceID)
			assert.Equal(t, "https://pay.example/checkout?pref=pref-1", result.InitPoint)

			repo.AssertExpectations(t)
			prefs.AssertExpectations(t)
			coupons.AssertExpectations(t)
		})
	}
}

func TestOrderService_Checkout_TotalNeverNegative(t *testing.T) {
	coupons := new(MockCoupons)
	coupons.On("Quote", mock.Anything, "ALL", mock.Anything, mock.Anything).
		Return(&coupon.Quote{Code: "ALL", Discount: dec("10000")}, nil)

	repo := order.NewMemoryRepository()
	prefs := new(MockPreferences)
	prefs.On("CreatePreference", mock.Anything, mock.Anything).Return(&order.Preference{ID: "p"}, nil)

	svc := order.NewService(repo, prefs, coupons, new(MockPublisher), testPricing)
	result, err := svc.Checkout(context.Background(), checkoutInput("ALL"))
	require.NoError(t, err)
	assert.True(t, result.Order.TotalPrice.IsZero())
}

func TestOrderService_Checkout_Rejections(t *testing.T) {
	t.Run("no items", func(t *testing.T) {
		svc := order.NewService(new(MockOrderRepository), new(MockPreferences), new(MockCoupons), new(MockPublisher), testPricing)
		input := checkoutInput("")
		input.Items = nil

		_, err := svc.Checkout(context.Background(), input)
		require.ErrorIs(t, err, order.ErrInvalidOrder)
	})

	t.Run("zero quantity", func(t *testing.T) {
		svc := order.NewService(new(MockOrderRepository), new(MockPreferences), new(MockCoupons), new(MockPublisher), testPricing)
		input := checkoutInput("")
		input.Items[1].Quantity = 0

		_, err := svc.Checkout(context.Background(), input)
		require.ErrorIs(t, err, order.ErrInvalidOrder)
	})

	t.Run("expired coupon", func(t *testing.T) {
		coupons := new(MockCoupons)
		coupons.On("Quote", mock.Anything, "OLD", mock.Anything, mock.Anything).Return(nil, coupon.ErrCouponExpired)
		repo := new(MockOrderRepository)
		svc := order.NewService(repo, new(MockPreferences), coupons, new(MockPublisher), testPricing)

		_, err := svc.Checkout(context.Background(), checkoutInput("old"))
		require.ErrorIs(t, err, coupon.ErrCouponExpired)
		repo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})
}

func TestOrderService_Checkout_RetriesOrderNumberCollision(t *testing.T) {
	repo := new(MockOrderRepository)
	prefs := new(MockPreferences)
	svc := order.NewService(repo, prefs, new(MockCoupons), new(MockPublisher), testPricing)

	repo.On("CreateOrder", mock.Anything, mock.Anything).Return(order.ErrDuplicateOrderNumber).Once()
	repo.On("CreateOrder", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("SetPreferenceID", mock.Anything, mock.Anything, "pref").Return(nil).Once()
	prefs.On("CreatePreference", mock.Anything, mock.Anything).Return(&order.Preference{ID: "pref"}, nil).Once()

	_, err := svc.Checkout(context.Background(), checkoutInput(""))
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "CreateOrder", 2)
}

func TestOrderService_Checkout_PreferenceFailureKeepsOrder(t *testing.T) {
	repo := order.NewMemoryRepository()
	prefs := new(MockPreferences)
	prefs.On("CreatePreference", mock.Anything, mock.Anything).Return(nil, errors.New("provider down")).Once()
	svc := order.NewService(repo, prefs, new(MockCoupons), new(MockPublisher), testPricing)

	result, err := svc.Checkout(context.Background(), checkoutInput(""))
	require.ErrorIs(t, err, order.ErrPreferenceFailed)
	require.NotNil(t, result)
	require.NotNil(t, result.Order)

	stored, err := repo.GetOrderByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Empty(t, stored.PreferenceID)
}

func TestOrderService_Repay(t *testing.T) {
	tests := []struct {
		name          string
		status        order.Status
		paymentStatus order.PaymentStatus
		wantErrIs     error
	}{
		{name: "pending payment", status: order.StatusPending, paymentStatus: order.PaymentPending},
		{name: "already paid", status: order.StatusPaid, paymentStatus: order.PaymentPaid, wantErrIs: order.ErrOrderNotRepayable},
		{name: "cancelled", status: order.StatusCancelled, paymentStatus: order.PaymentFailed, wantErrIs: order.ErrOrderNotRepayable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			prefs := new(MockPreferences)
			svc := order.NewService(repo, prefs, new(MockCoupons), new(MockPublisher), testPricing)

			existing := &order.Order{ID: "o-1", Status: tt.status, PaymentStatus: tt.paymentStatus}
			repo.On("GetOrderByID", mock.Anything, "o-1").Return(existing, nil).Once()
			if tt.wantErrIs == nil {
				prefs.On("CreatePreference", mock.Anything, existing).Return(&order.Preference{ID: "pref-2", InitPoint: "https://pay/2"}, nil).Once()
				repo.On("SetPreferenceID", mock.Anything, "o-1", "pref-2").Return(nil).Once()
			}

			result, err := svc.Repay(context.Background(), "o-1")
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				prefs.AssertNotCalled(t, "CreatePreference", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://pay/2", result.InitPoint)
			repo.AssertExpectations(t)
		})
	}
}

func TestOrderService_TrackOrder(t *testing.T) {
	repo := new(MockOrderRepository)
	svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), new(MockPublisher), testPricing)

	stored := &order.Order{ID: "o-1", OrderNumber: "SPT-00000001", Customer: order.Customer{Email: "Ana@Example.com"}}
	repo.On("GetOrderByNumber", mock.Anything, "SPT-00000001").Return(stored, nil)
	repo.On("GetOrderByNumber", mock.Anything, "SPT-99999999").Return(nil, order.ErrOrderNotFound)

	o, err := svc.TrackOrder(context.Background(), "SPT-00000001", " ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)

	_, err = svc.TrackOrder(context.Background(), "SPT-00000001", "someone@example.com")
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = svc.TrackOrder(context.Background(), "SPT-99999999", "ana@example.com")
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderService_ListOrders_ClampsLimit(t *testing.T) {
	repo := new(MockOrderRepository)
	svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), new(MockPublisher), testPricing)

	repo.On("ListOrders", mock.Anything, order.ListFilter{Limit: 20}).Return([]order.Order{}, nil).Once()
	repo.On("ListOrders", mock.Anything, order.ListFilter{Status: order.StatusPaid, Limit: 100, Offset: 0}).Return([]order.Order{}, nil).Once()

	_, err := svc.ListOrders(context.Background(), order.ListFilter{})
	require.NoError(t, err)
	_, err = svc.ListOrders(context.Background(), order.ListFilter{Status: order.StatusPaid, Limit: 500, Offset: -3})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	tests := []struct {
		name              string
		current           order.Status
		currentPayment    order.PaymentStatus
		newStatus         order.Status
		wantPaymentStatus order.PaymentStatus
		wantUpdate        bool
		wantErrIs         error
	}{
		{
			name:              "pending to paid marks payment paid",
			current:           order.StatusPending,
			currentPayment:    order.PaymentPending,
			newStatus:         order.StatusPaid,
			wantPaymentStatus: order.PaymentPaid,
			wantUpdate:        true,
		},
		{
			name:              "paid to shipped keeps payment",
			current:           order.StatusPaid,
			currentPayment:    order.PaymentPaid,
			newStatus:         order.StatusShipped,
			wantPaymentStatus: order.PaymentPaid,
			wantUpdate:        true,
		},
		{
			name:              "same status is a no-op",
			current:           order.StatusShipped,
			currentPayment:    order.PaymentPaid,
			newStatus:         order.StatusShipped,
			wantPaymentStatus: order.PaymentPaid,
		},
		{
			name:           "delivered is terminal",
			current:        order.StatusDelivered,
			currentPayment: order.PaymentPaid,
			newStatus:      order.StatusPending,
			wantErrIs:      order.ErrInvalidStatusTransition,
		},
		{
			name:           "cannot skip shipping",
			current:        order.StatusPaid,
			currentPayment: order.PaymentPaid,
			newStatus:      order.StatusDelivered,
			wantErrIs:      order.ErrInvalidStatusTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockOrderRepository)
			pub := new(MockPublisher)
			svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), pub, testPricing)

			stored := &order.Order{ID: "o-1", Status: tt.current, PaymentStatus: tt.currentPayment}
			repo.On("UpdateOrderStatus", mock.Anything, "o-1", mock.AnythingOfType("order.StatusGuard")).Return(stored, nil).Once()
			if tt.wantUpdate {
				pub.On("PublishStatusChanged", mock.Anything, mock.MatchedBy(func(ev event.StatusChanged) bool {
					return ev.OrderID == "o-1" && ev.Status == tt.newStatus.String() && ev.Source == "admin"
				})).Return(nil).Once()
			}
			if tt.current == tt.newStatus {
				repo.On("GetOrderByID", mock.Anything, "o-1").Return(stored, nil).Once()
			}

			updated, err := svc.UpdateOrderStatus(context.Background(), "o-1", tt.newStatus)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				pub.AssertNotCalled(t, "PublishStatusChanged", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.newStatus, updated.Status)
			assert.Equal(t, tt.wantPaymentStatus, updated.PaymentStatus)
			repo.AssertExpectations(t)
			pub.AssertExpectations(t)
		})
	}
}

func TestOrderService_UpdateOrderStatus_NotFound(t *testing.T) {
	repo := new(MockOrderRepository)
	svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), new(MockPublisher), testPricing)
	repo.On("UpdateOrderStatus", mock.Anything, "missing", mock.Anything).Return(nil, order.ErrOrderNotFound).Once()

	_, err := svc.UpdateOrderStatus(context.Background(), "missing", order.StatusShipped)
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

// webhookFirstRepository commits an approved payment right before the admin edit reaches the store.
type webhookFirstRepository struct {
	*order.MemoryRepository
	once sync.Once
	t    *testing.T
}

func (r *webhookFirstRepository) UpdateOrderStatus(ctx context.Context, id string, guard order.StatusGuard) (*order.Order, error) {
	r.once.Do(func() {
		_, err := r.ApplyPaymentEvent(ctx, id,
			order.PaymentEvent{PaymentID: "PAY123", ProviderStatus: "approved", ReceivedAt: time.Now().UTC()},
			approve(time.Now().UTC()))
		require.NoError(r.t, err)
	})
	return r.MemoryRepository.UpdateOrderStatus(ctx, id, guard)
}

func TestOrderService_UpdateOrderStatus_KeepsConcurrentPayment(t *testing.T) {
	repo := &webhookFirstRepository{MemoryRepository: order.NewMemoryRepository(), t: t}
	seedOrder(t, repo, "ORDER42", "SPT-00000042", time.Now().UTC().Add(-time.Hour))

	pub := new(MockPublisher)
	pub.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(nil)
	svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), pub, testPricing)

	updated, err := svc.UpdateOrderStatus(context.Background(), "ORDER42", order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, updated.Status)
	assert.Equal(t, order.PaymentPaid, updated.PaymentStatus)

	stored, err := repo.GetOrderByID(context.Background(), "ORDER42")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, "pay-1", stored.PaymentID)
}

func TestOrderService_UpdateOrderStatus_RacingWebhookNeverRevertsPayment(t *testing.T) {
	for i := 0; i < 50; i++ {
		repo := order.NewMemoryRepository()
		seedOrder(t, repo, "ORDER42", "SPT-00000042", time.Now().UTC().Add(-time.Hour))
		pub := new(MockPublisher)
		pub.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(nil)
		svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), pub, testPricing)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = repo.ApplyPaymentEvent(context.Background(), "ORDER42",
				order.PaymentEvent{PaymentID: "PAY123", ProviderStatus: "approved", ReceivedAt: time.Now().UTC()},
				approve(time.Now().UTC()))
		}()
		go func() {
			defer wg.Done()
			_, err := svc.UpdateOrderStatus(context.Background(), "ORDER42", order.StatusCancelled)
			assert.NoError(t, err)
		}()
		wg.Wait()

		stored, err := repo.GetOrderByID(context.Background(), "ORDER42")
		require.NoError(t, err)
		assert.Equal(t, order.PaymentPaid, stored.PaymentStatus)
	}
}

func TestOrderService_UpdateOrderStatus_PublishFailureIsNotFatal(t *testing.T) {
	repo := order.NewMemoryRepository()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateOrder(context.Background(), &order.Order{
		ID: "o-1", OrderNumber: "SPT-00000001", Status: order.StatusPending, PaymentStatus: order.PaymentPending, CreatedAt: now, UpdatedAt: now,
	}))

	pub := new(MockPublisher)
	pub.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(errors.New("broker unavailable")).Once()
	svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), pub, testPricing)

	_, err := svc.UpdateOrderStatus(context.Background(), "o-1", order.StatusCancelled)
	require.NoError(t, err)

	stored, err := repo.GetOrderByID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
}

func TestOrderService_Stats_UsesThirtyDayWindow(t *testing.T) {
	repo := new(MockOrderRepository)
	svc := order.NewService(repo, new(MockPreferences), new(MockCoupons), new(MockPublisher), testPricing)

	repo.On("Stats", mock.Anything, mock.MatchedBy(func(since time.Time) bool {
		return time.Since(since) > 29*24*time.Hour && time.Since(since) < 31*24*time.Hour
	})).Return(&order.Stats{TotalOrders: 3}, nil).Once()

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalOrders)
}
