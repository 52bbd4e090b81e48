package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	apiTokenEnv     = "GAMEREC_API_TOKEN"
	apiTokenAccount = "api_token"
)

// GetAPIToken returns the bearer token that guards the HTTP API. It comes
// from GAMEREC_API_TOKEN, then the keychain; on first use a random token is
// generated and stored so the CLI and server agree on it.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(apiTokenEnv)); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	tok := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing generated API token: %w", err)
	}
	return tok, nil
}
