package auth

import "testing"

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("gate-desk-42")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "gate-desk-42" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("gate-desk-42", hash) {
		t.Fatalf("expected matching password to pass")
	}
	if CheckPassword("gate-desk-43", hash) {
		t.Fatalf("expected wrong password to fail")
	}
	if CheckPassword("gate-desk-42", "") {
		t.Fatalf("expected empty hash to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Front#Desk2024"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	cases := map[string]string{
		"too short":         "Ab1!",
		"missing uppercase": "front#desk2024",
		"missing lowercase": "FRONT#DESK2024",
		"missing digit":     "Front#DeskDesk",
		"missing special":   "FrontDesk20245",
	}
	for name, pw := range cases {
		if err := ValidatePassword(pw); err == nil {
			t.Fatalf("%s: expected %q to fail", name, pw)
		}
	}
}
