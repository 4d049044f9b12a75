package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"ledgerpay/internal/config"

	"github.com/google/uuid"
)

// WechatGateway XML 报文型渠道（微信系）
// 下单要先调统一下单接口换 prepay 凭证，回调为 XML，应答 return_code XML
type WechatGateway struct {
	cred       *config.GatewayConfig
	httpClient *http.Client
}

func NewWechatGateway(cred *config.GatewayConfig, timeout time.Duration) *WechatGateway {
	return &WechatGateway{
		cred: cred,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *WechatGateway) Provider() string {
	return ProviderWechat
}

// CreateOrder 统一下单
// desktop 拿 code_url 做扫码，mobile 拿 mweb_url 跳转，inapp 返回 JSAPI 调起参数
//
// 【关键点】这里是一次阻塞的网关调用，超时由 httpClient 兜底；
// 调用方必须保证发起时没有握着未提交的数据库事务
func (g *WechatGateway) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*ProviderPayload, error) {
	params := map[string]string{
		"appid":            g.cred.AppID,
		"mch_id":           g.cred.MchID,
		"nonce_str":        uuid.NewString(),
		"body":             req.Subject,
		"out_trade_no":     req.TradeNo,
		"total_fee":        strconv.FormatInt(req.Amount, 10),
		"spbill_create_ip": req.ClientIP,
		"notify_url":       g.cred.NotifyURL,
	}

	switch req.ClientType {
	case ClientDesktop:
		params["trade_type"] = "NATIVE"
	case ClientMobile:
		params["trade_type"] = "MWEB"
	case ClientInApp:
		params["trade_type"] = "JSAPI"
	default:
		return nil, fmt.Errorf("不支持的客户端类型: %s", req.ClientType)
	}
	params["sign"] = signParams(params, g.cred.SecretKey)

	respParams, err := g.post(ctx, g.cred.APIBase+"/pay/unifiedorder", params)
	if err != nil {
		return nil, err
	}
	if respParams["return_code"] != "SUCCESS" || respParams["result_code"] != "SUCCESS" {
		return nil, fmt.Errorf("统一下单被拒绝: %s %s",
			respParams["return_msg"], respParams["err_code_des"])
	}

	switch req.ClientType {
	case ClientDesktop:
		return &ProviderPayload{RedirectURL: respParams["code_url"]}, nil
	case ClientMobile:
		return &ProviderPayload{RedirectURL: respParams["mweb_url"]}, nil
	default:
		// JSAPI 调起参数需要二次签名
		sdk := map[string]string{
			"appId":     g.cred.AppID,
			"timeStamp": strconv.FormatInt(time.Now().Unix(), 10),
			"nonceStr":  uuid.NewString(),
			"package":   "prepay_id=" + respParams["prepay_id"],
			"signType":  "MD5",
		}
		sdk["paySign"] = signParams(sdk, g.cred.SecretKey)
		return &ProviderPayload{SDKParams: sdk}, nil
	}
}

// VerifyNotification 校验异步回调
// 先把 XML 报文展开成平铺参数再验签，任何解析/签名问题都 fail closed
func (g *WechatGateway) VerifyNotification(_ map[string]string, body []byte) (*VerifiedOutcome, error) {
	params, err := xmlToMap(body)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	if !verifySign(params, g.cred.SecretKey) {
		return nil, ErrVerificationFailed
	}

	tradeNo := params["out_trade_no"]
	if tradeNo == "" {
		return nil, ErrVerificationFailed
	}

	success := params["return_code"] == "SUCCESS" && params["result_code"] == "SUCCESS"

	appid := params["appid"]
	if appid == "" {
		appid = params["sub_appid"]
	}

	return &VerifiedOutcome{
		TradeNo:     tradeNo,
		Success:     success,
		ProviderRef: params["transaction_id"],
		AppID:       appid,
		Raw:         string(body),
	}, nil
}

// CreateRefund 发起退款
func (g *WechatGateway) CreateRefund(ctx context.Context, req *RefundRequest) error {
	params := map[string]string{
		"appid":         g.cred.AppID,
		"mch_id":        g.cred.MchID,
		"nonce_str":     uuid.NewString(),
		"out_trade_no":  req.TradeNo,
		"out_refund_no": req.RefundNo,
		"total_fee":     strconv.FormatInt(req.Total, 10),
		"refund_fee":    strconv.FormatInt(req.Amount, 10),
		"refund_desc":   req.Reason,
	}
	params["sign"] = signParams(params, g.cred.SecretKey)

	respParams, err := g.post(ctx, g.cred.APIBase+"/secapi/pay/refund", params)
	if err != nil {
		return err
	}
	if respParams["return_code"] != "SUCCESS" || respParams["result_code"] != "SUCCESS" {
		return fmt.Errorf("网关退款被拒绝: %s %s",
			respParams["return_msg"], respParams["err_code_des"])
	}
	return nil
}

func (g *WechatGateway) AckSuccess() (string, string) {
	return "application/xml; charset=utf-8",
		"<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>"
}

func (g *WechatGateway) AckFailure() (string, string) {
	return "application/xml; charset=utf-8",
		"<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[FAIL]]></return_msg></xml>"
}

func (g *WechatGateway) post(ctx context.Context, apiURL string, params map[string]string) (map[string]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		bytes.NewReader(mapToXML(params)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/xml")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("网关请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return xmlToMap(body)
}

// ============================================================================
// XML 平铺报文编解码
// ============================================================================

// xmlToMap 把 <xml><k>v</k>...</xml> 展开为平铺 map
func xmlToMap(body []byte) (map[string]string, error) {
	params := make(map[string]string)
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var key string
	depth := 0
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				key = t.Name.Local
			}
		case xml.EndElement:
			depth--
			key = ""
		case xml.CharData:
			if depth == 2 && key != "" {
				params[key] += string(t)
			}
		}
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("空的XML报文")
	}
	return params, nil
}

// mapToXML 平铺 map 编码为 XML，键排序保证输出稳定
func mapToXML(params map[string]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("<xml>")
	for _, k := range keys {
		buf.WriteString("<" + k + "><![CDATA[")
		buf.WriteString(params[k])
		buf.WriteString("]]></" + k + ">")
	}
	buf.WriteString("</xml>")
	return buf.Bytes()
}
