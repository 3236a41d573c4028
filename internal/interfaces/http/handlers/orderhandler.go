// Package handlers implements the merchant API endpoints.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"usdtgate/internal/application/order"
	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/shared/constants"
	apperrors "usdtgate/internal/shared/errors"
	"usdtgate/internal/shared/logger"

	httpapi "usdtgate/internal/interfaces/http"
)

// CreateOrderRequest is the merchant's order creation payload. Amount is the
// fiat price in yuan; rate and timeout override the gateway defaults when
// present.
type CreateOrderRequest struct {
	OrderNo     string          `json:"order_no"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ChainType   string          `json:"chain_type" binding:"required"`
	Address     string          `json:"address"`
	NotifyUrl   string          `json:"notify_url"`
	RedirectUrl string          `json:"redirect_url"`
	Rate        string          `json:"rate"`
	Timeout     int             `json:"timeout"`
	Signature   string          `json:"signature"`
}

// CancelOrderRequest cancels one PENDING order by trade number.
type CancelOrderRequest struct {
	TradeNo   string `json:"trade_no" binding:"required"`
	Signature string `json:"signature"`
}

// OrderView is the order representation returned to merchants and the
// checkout page.
type OrderView struct {
	TradeNo      string `json:"trade_no"`
	OrderNo      string `json:"order_no,omitempty"`
	Amount       string `json:"amount"`
	ActualAmount string `json:"actual_amount"`
	Address      string `json:"address"`
	ChainType    string `json:"chain_type"`
	Status       string `json:"status"`
	Rate         string `json:"rate"`
	PaymentURL   string `json:"payment_url,omitempty"`
	ExpireTime   int64  `json:"expire_time,omitempty"`
	PayTime      int64  `json:"pay_time,omitempty"`
	TxHash       string `json:"tx_hash,omitempty"`

	// RemainingSeconds is how long the payment window stays open, zero once
	// the order left PENDING.
	RemainingSeconds int64 `json:"remaining_seconds,omitempty"`
}

// OrderHandler serves the order endpoints.
type OrderHandler struct {
	service *order.Service
	log     logger.Interface
}

func NewOrderHandler(service *order.Service, log logger.Interface) *OrderHandler {
	return &OrderHandler{service: service, log: log.Named("orderhandler")}
}

// Create handles POST /api/v1/order/create.
func (h *OrderHandler) Create(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.ErrorResponse(c, apperrors.NewBizError(apperrors.CodeParamError, "invalid request: "+err.Error()))
		return
	}

	created, err := h.service.Create(c.Request.Context(), order.CreateParams{
		OrderNo:        req.OrderNo,
		Amount:         req.Amount,
		ChainType:      req.ChainType,
		Address:        req.Address,
		NotifyUrl:      req.NotifyUrl,
		RedirectUrl:    req.RedirectUrl,
		Signature:      req.Signature,
		Rate:           req.Rate,
		TimeoutSeconds: req.Timeout,
	})
	if err != nil {
		httpapi.ErrorResponse(c, err)
		return
	}
	httpapi.SuccessResponse(c, toOrderView(created, 0))
}

// Cancel handles POST /api/v1/order/cancel.
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.ErrorResponse(c, apperrors.NewBizError(apperrors.CodeParamError, "invalid request: "+err.Error()))
		return
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), req.TradeNo)
	if err != nil {
		httpapi.ErrorResponse(c, err)
		return
	}
	httpapi.SuccessResponse(c, gin.H{
		"trade_no": cancelled.TradeNo,
		"status":   cancelled.Status,
	})
}

// Detail handles GET /api/v1/order/detail/:trade_no. The checkout page
// polls it, so it carries the remaining payment window.
func (h *OrderHandler) Detail(c *gin.Context) {
	tradeNo := c.Param("trade_no")
	found, remaining, err := h.service.Detail(c.Request.Context(), tradeNo)
	if err != nil {
		httpapi.ErrorResponse(c, err)
		return
	}

	view := toOrderView(found, remaining)
	httpapi.SuccessResponse(c, view)
}

func toOrderView(m *models.OrderModel, remainingSeconds int64) OrderView {
	view := OrderView{
		TradeNo:      m.TradeNo,
		OrderNo:      m.OrderNo,
		Amount:       order.CnyFromMinUnit(m.Amount).StringFixed(2),
		ActualAmount: order.UsdtFromMinUnit(m.ActualAmount, constants.USDTUnit, m.Scale).StringFixed(int32(m.Scale)),
		Address:      m.Address,
		ChainType:    m.ChainType,
		Status:       m.Status,
		Rate:         m.Rate,
		PaymentURL:   m.PaymentURL,
		TxHash:       m.TxHash,
	}
	if m.ExpireTime != nil {
		view.ExpireTime = m.ExpireTime.Unix()
	}
	if m.PayTime != nil {
		view.PayTime = m.PayTime.Unix()
	}
	view.RemainingSeconds = remainingSeconds
	return view
}
