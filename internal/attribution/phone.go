package attribution

import "strings"

// NormalizePhone reduces raw to E.164. Ten-digit numbers and eleven-digit
// numbers with a leading 1 are treated as North American. Numbers with an
// explicit + keep their country code. Anything too short to be a phone
// number normalises to "", which matches no intent by number.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(raw, "00") {
		digits = strings.TrimPrefix(digits, "00")
	}

	switch {
	case len(digits) < 7 || len(digits) > 15:
		return ""
	case international:
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}
