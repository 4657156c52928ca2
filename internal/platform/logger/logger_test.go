package logger

import "testing"

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"login", "ivanov",
		"password", "hunter2",
		"Authorization", "Bearer abc",
		"user_id", "4f1c",
		"payload", map[string]interface{}{"refresh_token": "x", "qty": 3},
	})

	got := map[string]interface{}{}
	for i := 0; i+1 < len(out); i += 2 {
		got[out[i].(string)] = out[i+1]
	}
	if got["login"] != "ivanov" {
		t.Fatalf("login should pass through, got %v", got["login"])
	}
	if got["password"] != "[REDACTED]" || got["Authorization"] != "[REDACTED]" {
		t.Fatalf("secrets not redacted: %+v", got)
	}
	if s, _ := got["user_id"].(string); len(s) != len("hash:")+12 {
		t.Fatalf("user_id should be hashed, got %v", got["user_id"])
	}
	nested := got["payload"].(map[string]interface{})
	if nested["refresh_token"] != "[REDACTED]" || nested["qty"] != 3 {
		t.Fatalf("nested map not sanitized: %+v", nested)
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"box_id", "1", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestLooksLikeJWT(t *testing.T) {
	if !looksLikeJWT("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig") {
		t.Fatalf("expected jwt-shaped string to match")
	}
	if looksLikeJWT("KRYPTO-LX2A9") {
		t.Fatalf("box code must not look like a jwt")
	}
}
