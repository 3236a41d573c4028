package order

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"usdtgate/internal/application/pool"
	"usdtgate/internal/infrastructure/config"
	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/infrastructure/repository"
	"usdtgate/internal/shared/constants"
	apperrors "usdtgate/internal/shared/errors"
	"usdtgate/internal/shared/logger"
)

const testAddress = "TXYZa1b2c3d4e5f6g7h8i9j0k1l2m3n4o5"

type fakeRates struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeRates) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	return f.rate, f.err
}

type testEnv struct {
	service *Service
	pool    *pool.AmountPool
	orders  *repository.OrderRepository
	rates   *fakeRates
	db      *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.OrderModel{}))

	cfg := &config.Config{
		App: config.AppConfig{URI: "http://localhost:8080", AuthToken: "secret"},
		Pay: config.PayConfig{
			Atom:             "0.01",
			Rate:             "~1",
			TimeoutSeconds:   1200,
			TradeIsConfirmed: true,
		},
		TRC20: config.ChainConfig{Enabled: true, Address: testAddress},
	}

	amountPool := pool.NewAmountPool()
	orders := repository.NewOrderRepository(db)
	rates := &fakeRates{rate: decimal.RequireFromString("7.2")}
	service := NewService(cfg, amountPool, orders, rates, EventBus.New(), logger.NewLogger())

	return &testEnv{service: service, pool: amountPool, orders: orders, rates: rates, db: db}
}

func (e *testEnv) createOrder(t *testing.T, amount string) *models.OrderModel {
	t.Helper()
	created, err := e.service.Create(context.Background(), CreateParams{
		OrderNo:   "merchant-1",
		Amount:    decimal.RequireFromString(amount),
		ChainType: constants.ChainTRC20,
		NotifyUrl: "http://merchant.example/notify",
	})
	require.NoError(t, err)
	return created
}

func TestService_Create(t *testing.T) {
	t.Run("prices and reserves the amount", func(t *testing.T) {
		env := newTestEnv(t)

		created := env.createOrder(t, "100")

		// 100 / 7.2 rounded to 2 places is 13.89 USDT.
		assert.Equal(t, int64(13890000), created.ActualAmount)
		assert.Equal(t, int64(10000), created.Amount)
		assert.Equal(t, constants.OrderStatusPending, created.Status)
		assert.Equal(t, testAddress, created.Address)
		assert.NotEmpty(t, created.TradeNo)
		assert.Contains(t, created.PaymentURL, created.TradeNo)

		entry := env.pool.Entry(testAddress, created.ActualAmount)
		require.NotNil(t, entry)
		assert.Equal(t, created.TradeNo, entry.TradeNo)
	})

	t.Run("explicit address reserves under that address", func(t *testing.T) {
		env := newTestEnv(t)
		override := "TOverride9f8e7d6c5b4a3f2e1d0c9b8a7f6e"

		created, err := env.service.Create(context.Background(), CreateParams{
			OrderNo:   "merchant-2",
			Amount:    decimal.RequireFromString("100"),
			ChainType: constants.ChainTRC20,
			Address:   override,
		})
		require.NoError(t, err)
		assert.Equal(t, override, created.Address)

		entry := env.pool.Entry(override, created.ActualAmount)
		require.NotNil(t, entry)
		assert.Equal(t, created.TradeNo, entry.TradeNo)
		assert.True(t, env.pool.IsAvailable(testAddress, created.ActualAmount))

		// A transfer to the explicit address settles the order.
		settled, err := env.service.MarkPaid(context.Background(), constants.ChainTRC20, override, created.ActualAmount, "txhash-override")
		require.NoError(t, err)
		assert.True(t, settled)
	})

	t.Run("bep20 addresses store lowercase", func(t *testing.T) {
		env := newTestEnv(t)
		mixed := "0x1234567890AbcdEF1234567890aBcdef12345678"
		env.service.cfg.BEP20 = config.ChainConfig{Enabled: true, Address: mixed}

		created, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("100"),
			ChainType: constants.ChainBEP20,
		})
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(mixed), created.Address)
		require.NotNil(t, env.pool.Entry(strings.ToLower(mixed), created.ActualAmount))
	})

	t.Run("steps past collisions", func(t *testing.T) {
		env := newTestEnv(t)
		require.True(t, env.pool.Allocate(testAddress, 13890000))
		require.True(t, env.pool.Allocate(testAddress, 13900000))

		created := env.createOrder(t, "100")

		assert.Equal(t, int64(13910000), created.ActualAmount)
	})

	t.Run("pool exhaustion", func(t *testing.T) {
		env := newTestEnv(t)
		for i := int64(0); i < constants.AllocateMaxAttempts; i++ {
			require.True(t, env.pool.Allocate(testAddress, 13890000+i*10000))
		}

		_, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("100"),
			ChainType: constants.ChainTRC20,
		})
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeAmountPoolAllocateFailed, bizErr.Code)
	})

	t.Run("invalid chain type", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("100"),
			ChainType: "DOGE",
		})
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeChainTypeInvalid, bizErr.Code)
	})

	t.Run("disabled chain", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("100"),
			ChainType: constants.ChainBEP20,
		})
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeChainNotEnabled, bizErr.Code)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.Zero,
			ChainType: constants.ChainTRC20,
		})
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeAmountTooSmall, bizErr.Code)
	})

	t.Run("sub-cent precision rejected", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("10.555"),
			ChainType: constants.ChainTRC20,
		})
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeAmountPrecisionError, bizErr.Code)
	})

	t.Run("absolute rate skips the market", func(t *testing.T) {
		env := newTestEnv(t)
		env.rates.err = fmt.Errorf("market down")

		created, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("72"),
			ChainType: constants.ChainTRC20,
			Rate:      "7.2",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10000000), created.ActualAmount)
	})

	t.Run("market outage fails non-absolute strategies", func(t *testing.T) {
		env := newTestEnv(t)
		env.rates.err = apperrors.NewBizError(apperrors.CodeRateCacheMissing, "rate unavailable")

		_, err := env.service.Create(context.Background(), CreateParams{
			Amount:    decimal.RequireFromString("100"),
			ChainType: constants.ChainTRC20,
		})
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeRateCacheMissing, bizErr.Code)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Run("releases the reservation", func(t *testing.T) {
		env := newTestEnv(t)
		created := env.createOrder(t, "100")

		cancelled, err := env.service.Cancel(context.Background(), created.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, constants.OrderStatusCancelled, cancelled.Status)
		assert.True(t, env.pool.IsAvailable(testAddress, created.ActualAmount))
	})

	t.Run("unknown order", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Cancel(context.Background(), "missing")
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeOrderNotFound, bizErr.Code)
	})

	t.Run("terminal order cannot cancel", func(t *testing.T) {
		env := newTestEnv(t)
		created := env.createOrder(t, "100")

		settled, err := env.service.MarkPaid(context.Background(), constants.ChainTRC20, testAddress, created.ActualAmount, "txhash1")
		require.NoError(t, err)
		require.True(t, settled)

		_, err = env.service.Cancel(context.Background(), created.TradeNo)
		bizErr := apperrors.AsBizError(err)
		require.NotNil(t, bizErr)
		assert.Equal(t, apperrors.CodeOrderCannotCancel, bizErr.Code)
	})
}

func TestService_MarkPaid(t *testing.T) {
	t.Run("settles exactly once", func(t *testing.T) {
		env := newTestEnv(t)
		created := env.createOrder(t, "100")

		settled, err := env.service.MarkPaid(context.Background(), constants.ChainTRC20, testAddress, created.ActualAmount, "txhash1")
		require.NoError(t, err)
		assert.True(t, settled)

		stored, err := env.orders.FindByTradeNo(context.Background(), created.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, constants.OrderStatusPaid, stored.Status)
		assert.Equal(t, "txhash1", stored.TxHash)
		require.NotNil(t, stored.PayTime)
		assert.True(t, env.pool.IsAvailable(testAddress, created.ActualAmount))

		// The same transfer observed again finds no reservation.
		settled, err = env.service.MarkPaid(context.Background(), constants.ChainTRC20, testAddress, created.ActualAmount, "txhash1")
		require.NoError(t, err)
		assert.False(t, settled)
	})

	t.Run("unreserved amount ignored", func(t *testing.T) {
		env := newTestEnv(t)
		settled, err := env.service.MarkPaid(context.Background(), constants.ChainTRC20, testAddress, 12345678, "txhash2")
		require.NoError(t, err)
		assert.False(t, settled)
	})
}

func TestService_ProcessTimeout(t *testing.T) {
	t.Run("expires a pending order", func(t *testing.T) {
		env := newTestEnv(t)
		created := env.createOrder(t, "100")

		require.NoError(t, env.service.ProcessTimeout(context.Background(), created))

		stored, err := env.orders.FindByTradeNo(context.Background(), created.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, constants.OrderStatusExpired, stored.Status)
		assert.True(t, env.pool.IsAvailable(testAddress, created.ActualAmount))
	})

	t.Run("lost race is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		created := env.createOrder(t, "100")

		settled, err := env.service.MarkPaid(context.Background(), constants.ChainTRC20, testAddress, created.ActualAmount, "txhash3")
		require.NoError(t, err)
		require.True(t, settled)

		require.NoError(t, env.service.ProcessTimeout(context.Background(), created))

		stored, err := env.orders.FindByTradeNo(context.Background(), created.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, constants.OrderStatusPaid, stored.Status)
	})
}

func TestService_Reconcile(t *testing.T) {
	t.Run("restores live orders and expires overdue ones", func(t *testing.T) {
		env := newTestEnv(t)
		live := env.createOrder(t, "100")
		overdue := env.createOrder(t, "200")

		past := time.Now().UTC().Add(-1 * time.Minute)
		require.NoError(t, env.db.Model(&models.OrderModel{}).
			Where("id = ?", overdue.ID).
			Update("expire_time", past).Error)

		// Simulate a restart: the in-memory pool is empty.
		fresh := pool.NewAmountPool()
		env.service.pool = fresh

		require.NoError(t, env.service.Reconcile(context.Background()))

		assert.False(t, fresh.IsAvailable(testAddress, live.ActualAmount))

		stored, err := env.orders.FindByTradeNo(context.Background(), overdue.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, constants.OrderStatusExpired, stored.Status)
	})

	t.Run("conflicting reservation parks the order as abnormal", func(t *testing.T) {
		env := newTestEnv(t)
		created := env.createOrder(t, "100")

		fresh := pool.NewAmountPool()
		require.True(t, fresh.AllocateBound(testAddress, created.ActualAmount, "other", time.Now().UTC().Add(time.Hour)))
		env.service.pool = fresh

		require.NoError(t, env.service.Reconcile(context.Background()))

		stored, err := env.orders.FindByTradeNo(context.Background(), created.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, constants.OrderStatusAbnormal, stored.Status)
	})
}

func TestService_Detail(t *testing.T) {
	env := newTestEnv(t)
	created := env.createOrder(t, "100")

	found, remaining, err := env.service.Detail(context.Background(), created.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, created.TradeNo, found.TradeNo)
	assert.Greater(t, remaining, int64(0))

	require.NoError(t, env.service.ProcessTimeout(context.Background(), created))
	_, remaining, err = env.service.Detail(context.Background(), created.TradeNo)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
