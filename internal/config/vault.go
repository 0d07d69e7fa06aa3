package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// resolveVault reads one key from a Vault secret. References have the
// form path#key, e.g. secret/data/cmstate#manager_password. Address,
// token and optional namespace come from the standard VAULT_* variables.
func resolveVault(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q (want path#key)", ref)
	}

	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return "", fmt.Errorf("VAULT_ADDR is not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("VAULT_TOKEN is not set")
	}

	return vaultLookup(addr, token, path, key)
}

func vaultLookup(addr, token, path, key string) (string, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return "", fmt.Errorf("building Vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}

	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret at %s", path)
	}

	val, ok := vaultData(secret.Data)[key]
	if !ok {
		return "", fmt.Errorf("secret %s has no key %q", path, key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("secret key %q is not a string", key)
	}
	return str, nil
}

// vaultData unwraps the KV v2 "data" envelope; KV v1 responses pass
// through untouched.
func vaultData(data map[string]interface{}) map[string]interface{} {
	if inner, ok := data["data"].(map[string]interface{}); ok {
		return inner
	}
	return data
}
