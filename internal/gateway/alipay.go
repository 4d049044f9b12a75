package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgerpay/internal/config"
)

// AlipayGateway 表单参数型渠道（支付宝系）
// 下单通过本地签名拼出跳转地址，回调为 URL 编码参数，应答纯文本
type AlipayGateway struct {
	cred       *config.GatewayConfig
	httpClient *http.Client
}

func NewAlipayGateway(cred *config.GatewayConfig, timeout time.Duration) *AlipayGateway {
	return &AlipayGateway{
		cred: cred,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *AlipayGateway) Provider() string {
	return ProviderAlipay
}

// CreateOrder 创建支付跳转
// desktop 走页面支付，mobile 走 wap 支付，inapp 返回给客户端 SDK 的调起参数
func (g *AlipayGateway) CreateOrder(_ context.Context, req *CreateOrderRequest) (*ProviderPayload, error) {
	params := map[string]string{
		"app_id":       g.cred.AppID,
		"out_trade_no": req.TradeNo,
		"total_amount": formatFen(req.Amount),
		"subject":      req.Subject,
		"notify_url":   g.cred.NotifyURL,
		"timestamp":    time.Now().Format("2006-01-02 15:04:05"),
	}

	var method string
	switch req.ClientType {
	case ClientDesktop:
		method = "alipay.trade.page.pay"
	case ClientMobile:
		method = "alipay.trade.wap.pay"
	case ClientInApp:
		method = "alipay.trade.app.pay"
	default:
		return nil, fmt.Errorf("不支持的客户端类型: %s", req.ClientType)
	}
	params["method"] = method
	params["sign"] = signParams(params, g.cred.SecretKey)

	if req.ClientType == ClientInApp {
		return &ProviderPayload{SDKParams: params}, nil
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return &ProviderPayload{
		RedirectURL: g.cred.APIBase + "/gateway.do?" + values.Encode(),
	}, nil
}

// VerifyNotification 校验异步回调
// 任何异常都返回 ErrVerificationFailed，调用方不得据此改动订单
func (g *AlipayGateway) VerifyNotification(params map[string]string, _ []byte) (*VerifiedOutcome, error) {
	if len(params) == 0 {
		return nil, ErrVerificationFailed
	}
	if !verifySign(params, g.cred.SecretKey) {
		return nil, ErrVerificationFailed
	}

	tradeNo := params["out_trade_no"]
	if tradeNo == "" {
		return nil, ErrVerificationFailed
	}

	status := params["trade_status"]
	success := status == "TRADE_SUCCESS" || status == "TRADE_FINISHED"

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	return &VerifiedOutcome{
		TradeNo:     tradeNo,
		Success:     success,
		ProviderRef: params["trade_no"],
		AppID:       params["app_id"],
		Raw:         values.Encode(),
	}, nil
}

// CreateRefund 发起退款
// 同步接口，应答体为纯文本 success
func (g *AlipayGateway) CreateRefund(ctx context.Context, req *RefundRequest) error {
	params := map[string]string{
		"app_id":         g.cred.AppID,
		"method":         "alipay.trade.refund",
		"out_trade_no":   req.TradeNo,
		"out_request_no": req.RefundNo,
		"refund_amount":  formatFen(req.Amount),
		"refund_reason":  req.Reason,
	}
	params["sign"] = signParams(params, g.cred.SecretKey)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cred.APIBase+"/gateway.do", strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("退款请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "success") {
		return fmt.Errorf("网关退款被拒绝: %s", string(body))
	}
	return nil
}

func (g *AlipayGateway) AckSuccess() (string, string) {
	return "text/plain; charset=utf-8", "success"
}

func (g *AlipayGateway) AckFailure() (string, string) {
	return "text/plain; charset=utf-8", "failure"
}

// formatFen 分转元的字符串表示
func formatFen(fen int64) string {
	return fmt.Sprintf("%d.%02d", fen/100, fen%100)
}
