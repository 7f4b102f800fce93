package wallet

import (
	"strings"
	"testing"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid mainnet address", "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", false},
		{"valid short address", strings.Repeat("1", 32), false},
		{"too short", "abc", true},
		{"too long", strings.Repeat("a", 45), true},
		{"contains zero", "0xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", true},
		{"contains uppercase O", strings.Repeat("O", 40), true},
		{"contains lowercase l", strings.Repeat("l", 40), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) err = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSignature(t *testing.T) {
	valid87 := strings.Repeat("2", 87)
	valid88 := strings.Repeat("3", 88)

	tests := []struct {
		name    string
		sig     string
		wantErr bool
	}{
		{"valid 87 chars", valid87, false},
		{"valid 88 chars", valid88, false},
		{"too short", strings.Repeat("2", 86), true},
		{"too long", strings.Repeat("2", 89), true},
		{"invalid character", strings.Repeat("2", 86) + "0", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignature(tt.sig)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSignature err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
