package helper

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// FormatPhoneNumber converts a phone number to a WhatsApp user JID.
// Accepts 0812xxx, 62812xxx and +62812xxx style inputs.
func FormatPhoneNumber(phone string) (types.JID, error) {
	cleaned := ""
	for _, char := range phone {
		if char >= '0' && char <= '9' {
			cleaned += string(char)
		}
	}

	// Local prefix to country code.
	if len(cleaned) > 0 && cleaned[0] == '0' {
		cleaned = "62" + cleaned[1:]
	}

	if len(cleaned) < 10 {
		return types.JID{}, fmt.Errorf("invalid phone number: %s", phone)
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

// ExtractPhoneFromJID strips the device and server parts:
// "6285148107612:43@s.whatsapp.net" -> "6285148107612".
func ExtractPhoneFromJID(jid string) string {
	beforeAt, _, _ := strings.Cut(jid, "@")
	phone, _, _ := strings.Cut(beforeAt, ":")
	return phone
}
