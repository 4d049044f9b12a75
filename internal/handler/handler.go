package handler

import (
	"errors"
	"io"
	"strconv"

	"ledgerpay/internal/config"
	"ledgerpay/internal/gateway"
	"ledgerpay/internal/repository"
	"ledgerpay/internal/service"
	"ledgerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService  *service.LedgerService
	orderService   *service.OrderService
	paymentService *service.PaymentService
	refundService  *service.RefundService
	adjustService  *service.AdjustService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, factory *gateway.ClientFactory) *Handler {
	return &Handler{
		ledgerService:  service.NewLedgerService(db),
		orderService:   service.NewOrderService(db, cfg),
		paymentService: service.NewPaymentService(db, cfg, factory),
		refundService:  service.NewRefundService(db, rdb, cfg, factory),
		adjustService:  service.NewAdjustService(db, cfg),
	}
}

// ============================================================
// 账本相关接口
// ============================================================

// GetBalances 查询三个维度的当前余额
// GET /api/v1/ledger/balance?user_id=xxx
func (h *Handler) GetBalances(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	balances, err := h.ledgerService.GetBalances(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, balances)
}

// ListEntries 查询账本流水
// GET /api/v1/ledger/entries?user_id=xxx&kind=point&page=1&page_size=10
func (h *Handler) ListEntries(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.ledgerService.ListEntries(c.Request.Context(), userID, c.Query("kind"), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 充值相关接口
// ============================================================

// ListTiers 充值档位列表
// GET /api/v1/recharge/tiers?kind=balance
func (h *Handler) ListTiers(c *gin.Context) {
	response.Success(c, gin.H{
		"tiers": h.orderService.ListTiers(c.Query("kind")),
	})
}

// CreateOrderRequest 创建充值单请求
type CreateOrderRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Kind   string `json:"kind" binding:"required"` // balance / point
	SKU    string `json:"sku" binding:"required"`  // 充值档位
}

// CreateOrder 创建充值单
// POST /api/v1/recharge/order
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), req.UserID, req.Kind, req.SKU, c.ClientIP())
	if err != nil {
		if errors.Is(err, service.ErrBadSKU) || errors.Is(err, service.ErrBadOrderKind) {
			response.BusinessError(c, response.CodeBadSKU, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"trade_no":         order.TradeNo,
		"requested_amount": order.RequestedAmount,
		"price":            order.Price,
		"gift_amount":      order.GiftAmount,
		"payment_status":   order.PaymentStatus.String(),
	})
}

// InitiatePaymentRequest 发起支付请求
type InitiatePaymentRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	TradeNo    string `json:"trade_no" binding:"required"`
	Channel    string `json:"channel" binding:"required"`     // alipay / wechat
	ClientType string `json:"client_type" binding:"required"` // desktop / mobile / inapp
}

// InitiatePayment 发起支付
// POST /api/v1/recharge/pay
//
// CREATED 状态下可以反复发起（换渠道/换端重试），不改订单状态
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payload, err := h.paymentService.InitiatePayment(c.Request.Context(),
		req.UserID, req.TradeNo, req.Channel, gateway.ClientType(req.ClientType), c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			response.BusinessError(c, response.CodeOrderNotFound, err.Error())
		case errors.Is(err, repository.ErrOrderNotOwned):
			response.BusinessError(c, response.CodeOrderNotOwned, err.Error())
		case errors.Is(err, repository.ErrOrderStateInvalid):
			response.BusinessError(c, response.CodeOrderStateInvalid, err.Error())
		default:
			// 网关不可用等情况，订单保持 CREATED
			response.BusinessError(c, response.CodeGatewayError, err.Error())
		}
		return
	}
	response.Success(c, payload)
}

// CheckStatus 轮询支付进度
// GET /api/v1/recharge/status?user_id=xxx&trade_no=xxx
func (h *Handler) CheckStatus(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	tradeNo := c.Query("trade_no")
	if tradeNo == "" {
		response.ParamError(c, "trade_no 参数不能为空")
		return
	}

	result, err := h.orderService.CheckStatus(c.Request.Context(), userID, tradeNo)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			response.BusinessError(c, response.CodeOrderNotFound, err.Error())
		case errors.Is(err, repository.ErrOrderNotOwned):
			response.BusinessError(c, response.CodeOrderNotOwned, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}
	response.Success(c, result)
}

// ListOrders 查询用户充值单列表
// GET /api/v1/recharge/orders?user_id=xxx&kind=&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, c.Query("kind"), page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 网关回调
// ============================================================

// GatewayNotify 支付网关异步回调
// POST /pay/:channel/notify
//
// 【关键点】无论内部结果如何都按渠道要求的报文应答并固定 200，
// 应答别的东西会招来网关风暴式重试
func (h *Handler) GatewayNotify(c *gin.Context) {
	channel := c.Param("channel")

	body, _ := io.ReadAll(c.Request.Body)

	// 表单参数型渠道的参数在 query/form 里
	params := make(map[string]string)
	_ = c.Request.ParseForm()
	for k, v := range c.Request.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	contentType, ack := h.paymentService.HandleNotification(c.Request.Context(), channel, params, body)
	c.Data(200, contentType, []byte(ack))
}

// ============================================================
// 签到 / 后台接口
// ============================================================

// CheckinRequest 签到请求
type CheckinRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// Checkin 签到领积分
// POST /api/v1/checkin
func (h *Handler) Checkin(c *gin.Context) {
	var req CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.adjustService.Checkin(c.Request.Context(), req.UserID, c.ClientIP()); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "签到成功"})
}

// PullNewRequest 拉新奖励请求
type PullNewRequest struct {
	UserID    int64 `json:"user_id" binding:"required"`
	InviteeID int64 `json:"invitee_id" binding:"required"`
}

// PullNew 拉新奖励，注册链路确认邀请关系后调用
// POST /api/v1/pullnew
func (h *Handler) PullNew(c *gin.Context) {
	var req PullNewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.adjustService.PullNew(c.Request.Context(), req.UserID, req.InviteeID, c.ClientIP()); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "奖励已发放"})
}

// AdminAdjust 后台人工加/扣款
// POST /api/v1/admin/adjust
func (h *Handler) AdminAdjust(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.IP = c.ClientIP()

	if err := h.adjustService.Adjust(c.Request.Context(), &req); err != nil {
		if errors.Is(err, service.ErrBadAdjustType) || errors.Is(err, repository.ErrBadLedgerKind) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "调整已提交"})
}

// AdminRefund 后台退款
// POST /api/v1/admin/refund
func (h *Handler) AdminRefund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.refundService.Refund(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			response.BusinessError(c, response.CodeOrderNotFound, err.Error())
		case errors.Is(err, service.ErrBadRefundAmount), errors.Is(err, service.ErrRefundExceeds):
			response.BusinessError(c, response.CodeRefundInvalid, err.Error())
		case errors.Is(err, repository.ErrOrderStateInvalid):
			response.BusinessError(c, response.CodeOrderStateInvalid, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}
	response.Success(c, result)
}
