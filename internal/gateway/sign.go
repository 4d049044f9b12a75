package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// signParams 对参数做 MD5 密钥签名
// 规则：参数名升序排列，跳过空值和 sign/sign_type 本身，
// 拼成 k1=v1&k2=v2...&key=SECRET 后取 MD5 大写十六进制
func signParams(params map[string]string, secretKey string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString("&key=")
	sb.WriteString(secretKey)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// verifySign 提取 sign 字段并比对签名，缺签名或不匹配都算失败
func verifySign(params map[string]string, secretKey string) bool {
	got, ok := params["sign"]
	if !ok || got == "" {
		return false
	}
	return strings.EqualFold(got, signParams(params, secretKey))
}
