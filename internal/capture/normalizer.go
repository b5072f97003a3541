// Package capture provides the public lead ingestion surface: payload
// normalization, API key authentication, recent-submission suppression and
// the pipeline coordinating persistence, duplicate detection and assignment.
package capture

import (
	"strings"

	"leadhub_backend/platform/phone"
)

// Identity is the canonical shape extracted from an arbitrary channel payload.
type Identity struct {
	Name         string
	Email        string
	Phone        string
	CustomFields map[string]any
}

// HasIdentity reports whether at least one matchable field was found.
func (i Identity) HasIdentity() bool {
	return i.Email != "" || i.Phone != ""
}

// Key synonyms are matched case-sensitively. A raw key listed here is
// consumed; everything else lands in CustomFields verbatim.
var (
	nameKeys  = []string{"name", "fullName", "full_name"}
	emailKeys = []string{"email", "emailAddress", "email_address", "mail"}
	phoneKeys = []string{"phone", "phoneNumber", "phone_number", "mobile", "tel"}
	firstKeys = []string{"firstName", "first_name"}
	lastKeys  = []string{"lastName", "last_name"}
)

// Normalize maps arbitrary channel field names onto the canonical identity
// triple. It never fails: a payload without any identity field yields an
// Identity with empty canonical fields, and the caller decides what to do.
//
// Normalize is a fixed point over its own output: feeding the canonical
// fields back in as raw fields returns them unchanged.
func Normalize(rawFields map[string]any) Identity {
	identity := Identity{CustomFields: make(map[string]any)}

	consumed := make(map[string]bool)
	identity.Name = firstString(rawFields, nameKeys, consumed)
	identity.Email = normalizeEmail(firstString(rawFields, emailKeys, consumed))
	identity.Phone = normalizePhone(firstString(rawFields, phoneKeys, consumed))

	// Synthesize name from first/last pairs when no direct synonym matched.
	first := firstString(rawFields, firstKeys, consumed)
	last := firstString(rawFields, lastKeys, consumed)
	if identity.Name == "" {
		identity.Name = strings.TrimSpace(first + " " + last)
	}

	for key, value := range rawFields {
		if consumed[key] {
			continue
		}
		identity.CustomFields[key] = value
	}
	return identity
}

// firstString returns the first non-empty string value among the given keys
// and marks every present key as consumed, so a payload carrying both
// "email" and "mail" does not leak the loser into custom fields.
func firstString(rawFields map[string]any, keys []string, consumed map[string]bool) string {
	var result string
	for _, key := range keys {
		value, ok := rawFields[key]
		if !ok {
			continue
		}
		s, isString := value.(string)
		if !isString {
			// Non-string values under identity keys are unusable; drop them
			// rather than poison the canonical fields.
			consumed[key] = true
			continue
		}
		consumed[key] = true
		if result == "" {
			result = strings.TrimSpace(s)
		}
	}
	return result
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizePhone renders the number in E.164 when it parses. A malformed
// number stays as trimmed input so it still participates in exact matching
// instead of being silently dropped.
func normalizePhone(raw string) string {
	return phone.NormalizeE164(raw)
}
