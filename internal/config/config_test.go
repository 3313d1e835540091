package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "empty", secret: "", want: ""},
		{name: "short fully masked", secret: "abc", want: maskedValue},
		{name: "exactly 8 fully masked", secret: "12345678", want: maskedValue},
		{name: "long shows edges", secret: "my_long_secret_key_123", want: "my<" + maskedValue + ">23"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSecret(tt.secret); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := Config{
		ModelName:        "gpt-4o-mini",
		PostgresPassword: "super_secret_password",
		HMACSecret:       "an-hmac-secret-of-sufficient-length",
		AdminToken:       "admin-token-value-long-enough",
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out := string(data)
	for _, secret := range []string{"super_secret_password", "an-hmac-secret-of-sufficient-length", "admin-token-value-long-enough"} {
		if strings.Contains(out, secret) {
			t.Errorf("marshalled config leaks secret %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, maskedValue) {
		t.Errorf("expected masked placeholder in output: %s", out)
	}
}

func TestStringDoesNotLeakSecrets(t *testing.T) {
	cfg := Config{PostgresPassword: "leakyleaky123"}
	if strings.Contains(cfg.String(), "leakyleaky123") {
		t.Error("String() leaked postgres password")
	}
}
