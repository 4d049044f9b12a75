package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledgerpay/internal/config"
)

// ============================================================================
// 支付网关抽象
// ============================================================================
//
// 订单层只依赖这里的接口，不关心具体渠道的报文形态。
// 两类渠道：
//   - 表单参数型（支付宝系）：回调是 URL 编码参数，应答是纯文本 success/failure
//   - XML 型（微信系）：回调是 XML 报文，应答是 return_code XML
//
// 【关键点】验签失败必须 fail closed：任何解析/签名异常都只返回
// ErrVerificationFailed，绝不返回一个"看起来成功"的结果

var (
	ErrVerificationFailed = errors.New("回调验签失败")
	ErrUnknownProvider    = errors.New("未知的支付渠道")
	ErrNoCredential       = errors.New("未找到支付凭证")
)

// ClientType 发起支付的客户端环境，决定走哪种下单接口
type ClientType string

const (
	ClientDesktop ClientType = "desktop" // 桌面浏览器（扫码/页面跳转）
	ClientMobile  ClientType = "mobile"  // 手机浏览器（wap跳转）
	ClientInApp   ClientType = "inapp"   // 支付应用内置浏览器（SDK调起）
)

func ValidClientType(t ClientType) bool {
	switch t {
	case ClientDesktop, ClientMobile, ClientInApp:
		return true
	}
	return false
}

// CreateOrderRequest 创建网关侧订单的入参
type CreateOrderRequest struct {
	TradeNo    string     // 内部交易号
	Amount     int64      // 应付金额（分）
	Subject    string     // 订单标题
	ClientType ClientType // 客户端环境
	ClientIP   string     // 用户IP
}

// ProviderPayload 下单结果，二选一：
// 跳转类渠道返回 RedirectURL，SDK 调起类渠道返回 SDKParams
type ProviderPayload struct {
	RedirectURL string            `json:"redirect_url,omitempty"`
	SDKParams   map[string]string `json:"sdk_params,omitempty"`
}

// VerifiedOutcome 验签通过的回调结果
// 只有拿到这个结构才允许触碰订单状态
type VerifiedOutcome struct {
	TradeNo     string // 内部交易号
	Success     bool   // 网关侧支付结果
	ProviderRef string // 网关流水号
	AppID       string // 回调所属应用
	Raw         string // 回调原文（入库存证）
}

// RefundRequest 发起网关退款的入参
type RefundRequest struct {
	TradeNo  string // 原交易号
	RefundNo string // 退款单号
	Amount   int64  // 本次退款金额（分）
	Total    int64  // 原单总金额（分）
	Reason   string
}

// Gateway 单个渠道客户端
type Gateway interface {
	Provider() string
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*ProviderPayload, error)
	VerifyNotification(params map[string]string, body []byte) (*VerifiedOutcome, error)
	CreateRefund(ctx context.Context, req *RefundRequest) error
	// AckSuccess/AckFailure 返回该渠道要求的应答体（Content-Type, body）
	// 无论内部处理结果如何都必须用它们应答，否则网关会无限重试
	AckSuccess() (string, string)
	AckFailure() (string, string)
}

// ============================================================================
// 客户端工厂
// ============================================================================

const (
	ProviderAlipay = "alipay"
	ProviderWechat = "wechat"
)

// ClientFactory 按 (provider, appid) 缓存网关客户端
// 凭证查找按 appid -> sub_appid -> mch_id 的别名顺序逐个匹配，
// 子应用回调携带的 sub_appid 也能落到父应用的凭证上
type ClientFactory struct {
	mu      sync.Mutex
	creds   []config.GatewayConfig
	timeout time.Duration
	clients map[string]Gateway
}

func NewClientFactory(creds []config.GatewayConfig, timeout time.Duration) *ClientFactory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClientFactory{
		creds:   creds,
		timeout: timeout,
		clients: make(map[string]Gateway),
	}
}

func (f *ClientFactory) findCredential(provider, appid string) (*config.GatewayConfig, bool) {
	// 别名匹配顺序固定：appid、sub_appid、mch_id
	for i := range f.creds {
		if f.creds[i].Provider == provider && f.creds[i].AppID == appid {
			return &f.creds[i], true
		}
	}
	for i := range f.creds {
		if f.creds[i].Provider == provider && f.creds[i].SubAppID == appid {
			return &f.creds[i], true
		}
	}
	for i := range f.creds {
		if f.creds[i].Provider == provider && f.creds[i].MchID == appid {
			return &f.creds[i], true
		}
	}
	return nil, false
}

// Get 获取渠道客户端，appid 为空时使用该渠道的第一套凭证
func (f *ClientFactory) Get(provider, appid string) (Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cred *config.GatewayConfig
	if appid == "" {
		for i := range f.creds {
			if f.creds[i].Provider == provider {
				cred = &f.creds[i]
				break
			}
		}
	} else if c, ok := f.findCredential(provider, appid); ok {
		cred = c
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: provider=%s appid=%s", ErrNoCredential, provider, appid)
	}

	key := provider + ":" + cred.AppID
	if client, ok := f.clients[key]; ok {
		return client, nil
	}

	var client Gateway
	switch provider {
	case ProviderAlipay:
		client = NewAlipayGateway(cred, f.timeout)
	case ProviderWechat:
		client = NewWechatGateway(cred, f.timeout)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	f.clients[key] = client
	return client, nil
}

// ExtractAppID 在验签前从回调里取出应用ID，用于定位凭证
// 取不到返回空串，由工厂回退到该渠道的默认凭证
func ExtractAppID(provider string, params map[string]string, body []byte) string {
	switch provider {
	case ProviderAlipay:
		return params["app_id"]
	case ProviderWechat:
		m, err := xmlToMap(body)
		if err != nil {
			return ""
		}
		if m["appid"] != "" {
			return m["appid"]
		}
		return m["sub_appid"]
	}
	return ""
}

// FallbackAck 凭证都找不到时的兜底应答
// 依然按渠道的报文形态应答失败，避免网关无限重试
func FallbackAck(provider string) (string, string) {
	if provider == ProviderWechat {
		return "application/xml; charset=utf-8",
			"<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[FAIL]]></return_msg></xml>"
	}
	return "text/plain; charset=utf-8", "failure"
}
