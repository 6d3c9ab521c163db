package contact

import (
	"errors"
	"strings"

	"chat-backend/internal/constants"
)

// ErrInvalidFormat 電話號碼不符合支援的格式
var ErrInvalidFormat = errors.New("電話號碼格式錯誤")

// Normalizer 電話號碼標準化器
// 純函數，無 I/O，無副作用
type Normalizer struct {
	prefix          string // 唯一支援的國碼前綴，例如 "+84"
	namePlaceholder string // 名稱缺省時的占位字串
}

// NewNormalizer 創建標準化器
func NewNormalizer(prefix, namePlaceholder string) *Normalizer {
	if prefix == "" {
		prefix = constants.DefaultCountryPrefix
	}
	if namePlaceholder == "" {
		namePlaceholder = constants.DefaultContactNamePlaceholder
	}
	return &Normalizer{
		prefix:          prefix,
		namePlaceholder: namePlaceholder,
	}
}

// Normalize 標準化電話號碼與名稱
// 接受的輸入形式：
//   - 已標準化：+84xxxxxxxxx（國碼 + 9 位數字）
//   - 無加號國碼：84xxxxxxxxx
//   - 本地格式：0xxxxxxxxx（0 換成國碼）
//
// 其餘一律回傳 ErrInvalidFormat；標準化是冪等的
func (n *Normalizer) Normalize(rawPhone, rawName string) (phone, name string, err error) {
	stripped := stripPhone(rawPhone)
	if stripped == "" {
		return "", "", ErrInvalidFormat
	}

	digitsPrefix := strings.TrimPrefix(n.prefix, "+")

	switch {
	case strings.HasPrefix(stripped, n.prefix):
		phone = stripped
	case strings.HasPrefix(stripped, digitsPrefix):
		phone = "+" + stripped
	case strings.HasPrefix(stripped, "0"):
		phone = n.prefix + stripped[1:]
	default:
		return "", "", ErrInvalidFormat
	}

	// 國碼之後必須是固定位數的純數字
	subscriber := strings.TrimPrefix(phone, n.prefix)
	if len(subscriber) != constants.PhoneSubscriberDigits || !isDigits(subscriber) {
		return "", "", ErrInvalidFormat
	}

	name = strings.TrimSpace(rawName)
	if name == "" {
		name = n.namePlaceholder
	}

	return phone, name, nil
}

// stripPhone 去除數字與前導 + 以外的所有字符
func stripPhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isDigits 檢查字串是否全為數字
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
