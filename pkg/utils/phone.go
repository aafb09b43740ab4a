package utils

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D`)

// SanitizePhone strips everything but digits from a phone number.
func SanitizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// IsValidPhone reports whether the value is a bare 10-15 digit number.
func IsValidPhone(phone string) bool {
	if len(phone) < 10 || len(phone) > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PhoneToJID converts a bare phone number into a WhatsApp user JID string.
func PhoneToJID(phone string) string {
	phone = SanitizePhone(phone)
	if phone == "" {
		return ""
	}
	return phone + "@s.whatsapp.net"
}

// JIDToPhone extracts the bare phone number from a JID like
// "254700000001:12@s.whatsapp.net".
func JIDToPhone(jid string) string {
	user := jid
	if idx := strings.Index(user, "@"); idx >= 0 {
		user = user[:idx]
	}
	if idx := strings.Index(user, ":"); idx >= 0 {
		user = user[:idx]
	}
	return SanitizePhone(user)
}
