package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	pkgerrors "StatusBridge/pkg/errors"
)

// SignatureHeader provider 在每次投递上携带的签名头
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// VerifyChallenge 处理订阅握手
// 只有 mode == "subscribe" 且 token 与配置一致时回显 challenge，
// 其余情况一律按鉴权失败处理，无副作用。
func VerifyChallenge(mode, token, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" {
		return "", pkgerrors.ChallengeRejected
	}
	if expectedToken == "" || token != expectedToken {
		return "", pkgerrors.ChallengeRejected
	}
	return challenge, nil
}

// VerifySignature 校验投递签名
// 对未解析的原始 body 计算 HMAC-SHA256，与 header 中 sha256=<hex> 常量时间比较。
// 不匹配返回 (false, nil)，由调用方按 strict/permissive 策略决定是否放行。
func VerifySignature(rawBody []byte, signatureHeader, secret string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false, nil
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)

	return hmac.Equal(mac.Sum(nil), expected), nil
}

// ComputeSignature 生成 header 形式的签名，测试和回放工具使用
func ComputeSignature(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
