// Package mask redacts cardholder data from structures before they are logged
// or surfaced to an operator. The terminal gateway reports the card BIN, the
// last four PAN digits and the authorisation code on approval; none of these
// may reach a log sink in the clear.
package mask

// Redaction tokens per field class.
const (
	// BINToken replaces a card BIN (first six PAN digits)
	BINToken = "******"
	// Last4Token replaces the last four PAN digits
	Last4Token = "****"
	// AuthCodeToken replaces an authorisation code
	AuthCodeToken = "[MASKED]"
)

// Field alias sets. The gateway, the POS payment line and the kiosk flow each
// spell these fields differently, so every known alias is covered.
var (
	binAliases = []string{"bank_id_no", "cardBin", "pdq_card_bin"}

	last4Aliases = []string{"card_no_4digit", "cardLast4", "card_no"}

	authCodeAliases = []string{"auth_code", "authCode", "payment_method_authcode"}
)

// Mask returns a shallow copy of record with every cardholder-data alias
// replaced by its redaction token. Transaction id, terminal id, amount,
// currency and status-code fields pass through untouched; they are needed for
// troubleshooting and are not cardholder data.
//
// Masking is idempotent: applying Mask to an already-masked record changes
// nothing.
func Mask(record map[string]interface{}) map[string]interface{} {
	if record == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(record))
	for k, v := range record {
		masked[k] = v
	}

	redact(masked, binAliases, BINToken)
	redact(masked, last4Aliases, Last4Token)
	redact(masked, authCodeAliases, AuthCodeToken)

	return masked
}

// redact replaces every present, non-empty alias with the given token.
func redact(record map[string]interface{}, aliases []string, token string) {
	for _, alias := range aliases {
		v, ok := record[alias]
		if !ok {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		if v == nil {
			continue
		}
		record[alias] = token
	}
}
