package gateway

import (
	"strings"
	"testing"
)

func TestSignParamsSkipsSignAndEmptyValues(t *testing.T) {
	base := map[string]string{
		"b": "2",
		"a": "1",
	}
	withNoise := map[string]string{
		"b":         "2",
		"a":         "1",
		"sign":      "SHOULD-BE-IGNORED",
		"sign_type": "MD5",
		"empty":     "",
	}

	if signParams(base, "secret") != signParams(withNoise, "secret") {
		t.Fatal("sign, sign_type and empty values must not affect the signature")
	}
}

func TestSignParamsDependsOnSecret(t *testing.T) {
	params := map[string]string{"out_trade_no": "RCH001", "total_fee": "1000"}
	if signParams(params, "key-a") == signParams(params, "key-b") {
		t.Fatal("different secrets must yield different signatures")
	}
}

func TestVerifySign(t *testing.T) {
	params := map[string]string{
		"out_trade_no": "RCH001",
		"total_fee":    "1000",
	}
	params["sign"] = signParams(params, "secret")

	if !verifySign(params, "secret") {
		t.Fatal("valid signature rejected")
	}

	// 大小写不敏感
	params["sign"] = strings.ToLower(params["sign"])
	if !verifySign(params, "secret") {
		t.Fatal("signature comparison must be case insensitive")
	}

	// 篡改参数后验签必须失败
	params["total_fee"] = "999999"
	if verifySign(params, "secret") {
		t.Fatal("tampered params accepted")
	}

	// 缺签名必须失败
	if verifySign(map[string]string{"a": "1"}, "secret") {
		t.Fatal("missing sign accepted")
	}
}
