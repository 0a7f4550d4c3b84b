package mask

import (
	"reflect"
	"strings"
	"testing"
)

func TestMask_RedactsCardholderData(t *testing.T) {
	record := map[string]interface{}{
		"uti":            "TX123",
		"termid":         "TERM01",
		"amttxn":         1050,
		"status_code":    "200A",
		"bank_id_no":     "453212",
		"card_no_4digit": "9012",
		"auth_code":      "A1B2C3",
	}

	masked := Mask(record)

	if masked["bank_id_no"] != BINToken {
		t.Errorf("bank_id_no = %v, want %q", masked["bank_id_no"], BINToken)
	}
	if masked["card_no_4digit"] != Last4Token {
		t.Errorf("card_no_4digit = %v, want %q", masked["card_no_4digit"], Last4Token)
	}
	if masked["auth_code"] != AuthCodeToken {
		t.Errorf("auth_code = %v, want %q", masked["auth_code"], AuthCodeToken)
	}

	// Non-sensitive fields pass through.
	if masked["uti"] != "TX123" || masked["termid"] != "TERM01" ||
		masked["amttxn"] != 1050 || masked["status_code"] != "200A" {
		t.Errorf("non-sensitive fields altered: %v", masked)
	}

	// Original record untouched.
	if record["bank_id_no"] != "453212" {
		t.Errorf("Mask mutated its input: %v", record)
	}
}

func TestMask_AllAliases(t *testing.T) {
	tests := []struct {
		alias string
		token string
	}{
		{"bank_id_no", BINToken},
		{"cardBin", BINToken},
		{"pdq_card_bin", BINToken},
		{"card_no_4digit", Last4Token},
		{"cardLast4", Last4Token},
		{"card_no", Last4Token},
		{"auth_code", AuthCodeToken},
		{"authCode", AuthCodeToken},
		{"payment_method_authcode", AuthCodeToken},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			masked := Mask(map[string]interface{}{tt.alias: "secret"})
			if masked[tt.alias] != tt.token {
				t.Errorf("%s = %v, want %q", tt.alias, masked[tt.alias], tt.token)
			}
		})
	}
}

func TestMask_Idempotent(t *testing.T) {
	record := map[string]interface{}{
		"uti":        "TX123",
		"bank_id_no": "453212",
		"cardLast4":  "9012",
		"authCode":   "A1B2",
	}

	once := Mask(record)
	twice := Mask(once)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Mask not idempotent:\nonce  = %v\ntwice = %v", once, twice)
	}
}

func TestMask_NoSensitiveSubstrings(t *testing.T) {
	record := map[string]interface{}{
		"bank_id_no":     "453212",
		"card_no_4digit": "9012",
		"auth_code":      "A1B2C3",
	}

	masked := Mask(record)

	for _, secret := range []string{"453212", "9012", "A1B2C3"} {
		for k, v := range masked {
			s, ok := v.(string)
			if ok && strings.Contains(s, secret) {
				t.Errorf("masked field %s still contains %q", k, secret)
			}
		}
	}
}

func TestMask_EdgeCases(t *testing.T) {
	if Mask(nil) != nil {
		t.Error("Mask(nil) should return nil")
	}

	// Empty and nil values are left alone rather than replaced with a token
	// that would fake the presence of data.
	masked := Mask(map[string]interface{}{"auth_code": "", "cardBin": nil})
	if masked["auth_code"] != "" {
		t.Errorf("empty auth_code = %v, want empty string", masked["auth_code"])
	}
	if masked["cardBin"] != nil {
		t.Errorf("nil cardBin = %v, want nil", masked["cardBin"])
	}
}
