package utils

import (
	"strings"
)

// NormalizePhone 归一化号码：去掉前导 +、空格和分隔符，只保留数字
// 关联键两侧都走这一个函数，保证 webhook 回传和发送侧落库一致
func NormalizePhone(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ValidatePhone 国际号码的宽松校验：纯数字且长度合理
func ValidatePhone(phone string) bool {
	n := len(phone)
	if n < 8 || n > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
