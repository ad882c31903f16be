package directory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPhone is returned when a contact phone cannot be normalized to E.164.
var ErrInvalidPhone = errors.New("directory: invalid phone format")

const maxE164Digits = 15

// NormalizePhone converts loosely formatted gateway input ("whatsapp:+1 (555)
// 123-4567") to strict E.164 ("+15551234567"). The input must carry a leading
// "+" once the channel prefix is stripped.
func NormalizePhone(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	for _, prefix := range []string{"whatsapp:", "sms:", "tel:"} {
		if strings.HasPrefix(strings.ToLower(value), prefix) {
			value = strings.TrimSpace(value[len(prefix):])
			break
		}
	}
	if !strings.HasPrefix(value, "+") {
		return "", fmt.Errorf("%w: missing leading +", ErrInvalidPhone)
	}

	var digits strings.Builder
	for _, r := range value[1:] {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("%w: no digits", ErrInvalidPhone)
	}
	if digits.Len() > maxE164Digits {
		return "", fmt.Errorf("%w: too long", ErrInvalidPhone)
	}
	return "+" + digits.String(), nil
}
