package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

type recordedUpdate struct {
	id     uint
	count  int
	status string
}

type fakeRecorder struct {
	updates chan recordedUpdate
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{updates: make(chan recordedUpdate, 8)}
}

func (r *fakeRecorder) UpdateNotifyInfo(ctx context.Context, id uint, count int, status string, at time.Time) error {
	r.updates <- recordedUpdate{id: id, count: count, status: status}
	return nil
}

func (r *fakeRecorder) next(t *testing.T) recordedUpdate {
	t.Helper()
	select {
	case u := <-r.updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no notify update recorded")
		return recordedUpdate{}
	}
}

func paidOrder(id uint, notifyURL string) *models.OrderModel {
	return &models.OrderModel{
		ID:        id,
		TradeNo:   "trade-1",
		Status:    constants.OrderStatusPaid,
		NotifyUrl: notifyURL,
	}
}

func TestDispatcher_Deliver(t *testing.T) {
	t.Run("2xx marks success", func(t *testing.T) {
		var received map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		recorder := newFakeRecorder()
		d := NewDispatcher(NewSender(), recorder, EventBus.New(), logger.NewLogger())

		d.Deliver(context.Background(), paidOrder(7, server.URL))

		update := recorder.next(t)
		assert.Equal(t, uint(7), update.id)
		assert.Equal(t, 1, update.count)
		assert.Equal(t, constants.NotifyStatusSuccess, update.status)
		// Merchants key off tradeNo in the webhook body.
		assert.Equal(t, "trade-1", received["tradeNo"])
		assert.Equal(t, constants.OrderStatusPaid, received["status"])
	})

	t.Run("5xx schedules a retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		recorder := newFakeRecorder()
		d := NewDispatcher(NewSender(), recorder, EventBus.New(), logger.NewLogger())

		d.Deliver(context.Background(), paidOrder(7, server.URL))

		update := recorder.next(t)
		assert.Equal(t, 1, update.count)
		assert.Equal(t, constants.NotifyStatusRetry, update.status)
	})

	t.Run("final attempt lands in max retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		recorder := newFakeRecorder()
		d := NewDispatcher(NewSender(), recorder, EventBus.New(), logger.NewLogger())

		order := paidOrder(7, server.URL)
		order.NotifyCount = constants.MaxNotifyRetries - 1
		d.Deliver(context.Background(), order)

		update := recorder.next(t)
		assert.Equal(t, constants.MaxNotifyRetries, update.count)
		assert.Equal(t, constants.NotifyStatusMaxRetry, update.status)
	})

	t.Run("non-terminal order never notifies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected callback request")
		}))
		defer server.Close()

		recorder := newFakeRecorder()
		d := NewDispatcher(NewSender(), recorder, EventBus.New(), logger.NewLogger())

		order := paidOrder(7, server.URL)
		order.Status = constants.OrderStatusPending
		d.Deliver(context.Background(), order)

		select {
		case u := <-recorder.updates:
			t.Errorf("unexpected notify update %+v", u)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("no notify url marks delivered without a request", func(t *testing.T) {
		recorder := newFakeRecorder()
		d := NewDispatcher(NewSender(), recorder, EventBus.New(), logger.NewLogger())

		d.Deliver(context.Background(), paidOrder(7, ""))

		update := recorder.next(t)
		assert.Equal(t, 0, update.count)
		assert.Equal(t, constants.NotifyStatusSuccess, update.status)
	})
}

func TestDispatcher_BusSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := newFakeRecorder()
	bus := EventBus.New()
	d := NewDispatcher(NewSender(), recorder, bus, logger.NewLogger())
	require.NoError(t, d.Start())
	defer d.Stop()

	bus.Publish(constants.TopicCallbackNotify, paidOrder(9, server.URL))

	update := recorder.next(t)
	assert.Equal(t, uint(9), update.id)
	assert.Equal(t, constants.NotifyStatusSuccess, update.status)
}
