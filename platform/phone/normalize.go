// Package phone normalizes phone numbers so lead identifiers compare
// consistently. It is part of the platform layer and contains no business
// logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Numbers without a country prefix are parsed against this region.
const defaultRegion = "DE"

// NormalizeE164 formats a phone number to E.164. Input that cannot be parsed
// as a valid number comes back trimmed but otherwise unchanged, so lookups
// still match whatever was stored.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}
