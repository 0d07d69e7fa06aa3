package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newVaultServer fakes a KV v2 read endpoint serving the given fields.
func newVaultServer(t *testing.T, fields map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		data := map[string]interface{}{}
		for k, v := range fields {
			data[k] = v
		}
		// KV v2 wraps the payload in a second "data" envelope.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data},
		})
	}))
}

func TestResolveVault_Success(t *testing.T) {
	server := newVaultServer(t, map[string]string{"password": "s3cret"})
	defer server.Close()

	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "test-token")

	val, err := resolveVault("secret/data/cmstate#password")
	if err != nil {
		t.Fatalf("resolveVault: %v", err)
	}
	if val != "s3cret" {
		t.Errorf("resolved %q, want s3cret", val)
	}
}

func TestResolveVault_MissingKey(t *testing.T) {
	server := newVaultServer(t, map[string]string{"username": "admin"})
	defer server.Close()

	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "test-token")

	if _, err := resolveVault("secret/data/cmstate#nonexistent"); err == nil {
		t.Error("lookup of a key the secret does not carry should fail")
	}
}

func TestResolveVault_Errors(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		token string
		ref   string
	}{
		{"no separator", "http://localhost:8200", "test-token", "no-hash-separator"},
		{"empty path", "http://localhost:8200", "test-token", "#key"},
		{"empty key", "http://localhost:8200", "test-token", "secret/data/path#"},
		{"unset address", "", "test-token", "secret/data/path#key"},
		{"unset token", "http://localhost:8200", "", "secret/data/path#key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VAULT_ADDR", tt.addr)
			t.Setenv("VAULT_TOKEN", tt.token)
			if _, err := resolveVault(tt.ref); err == nil {
				t.Errorf("resolveVault(%q) succeeded, want error", tt.ref)
			}
		})
	}
}

func TestResolveValue_Vault(t *testing.T) {
	server := newVaultServer(t, map[string]string{"db_pass": "hunter2"})
	defer server.Close()

	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "test-token")

	val, err := ResolveValue("${VAULT:secret/data/cmstate#db_pass}")
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if val != "hunter2" {
		t.Errorf("resolved %q, want hunter2", val)
	}
}

func TestVaultDataUnwrapsKVv1(t *testing.T) {
	flat := map[string]interface{}{"password": "plain"}
	if got := vaultData(flat); got["password"] != "plain" {
		t.Errorf("flat KV v1 data should pass through untouched, got %v", got)
	}
}
