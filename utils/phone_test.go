package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"15551234567", "15551234567"},
		{"+1 (555) 123-4567", "15551234567"},
		{"+86 138 0013 8000", "8613800138000"},
		{"555.123.4567", "5551234567"},
		{"", ""},
		{"abc", ""},
	}

	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidatePhone(t *testing.T) {
	valid := []string{"15551234567", "8613800138000", "12345678"}
	for _, p := range valid {
		if !ValidatePhone(p) {
			t.Errorf("ValidatePhone(%q) = false, want true", p)
		}
	}

	invalid := []string{"", "1234567", "1234567890123456", "555-123", "abc"}
	for _, p := range invalid {
		if ValidatePhone(p) {
			t.Errorf("ValidatePhone(%q) = true, want false", p)
		}
	}
}

func TestHashPhoneStable(t *testing.T) {
	a := HashPhone("15551234567")
	b := HashPhone("15551234567")
	if a != b {
		t.Error("HashPhone must be deterministic")
	}
	if a == HashPhone("15551234568") {
		t.Error("different phones must not collide trivially")
	}
}
