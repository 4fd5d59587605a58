package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Credentials holds API keys for LLM providers, persisted to
// ~/.config/agentcore/credentials.json.
type Credentials struct {
	Providers map[string]ProviderCredentials `json:"providers"`
}

// ProviderCredentials holds authentication for a single dialect.
type ProviderCredentials struct {
	APIKey string `json:"api_key"`
}

// LoadCredentials reads credentials from ~/.config/agentcore/credentials.json.
func LoadCredentials() (*Credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		Providers: make(map[string]ProviderCredentials),
	}

	//nolint:gosec // G304: path from the runtime's own data dir
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return creds, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, creds); err != nil {
		return nil, err
	}

	return creds, nil
}

// SaveCredentials writes credentials to ~/.config/agentcore/credentials.json
// with 0600 permissions.
func SaveCredentials(creds *Credentials) error {
	dir, err := EnsureDataDir()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "credentials.json")
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetAPIKey returns the API key for a given dialect, or empty string if unset.
func (c *Credentials) GetAPIKey(dialect string) string {
	if c == nil || c.Providers == nil {
		return ""
	}
	return c.Providers[dialect].APIKey
}

// SetAPIKey sets the API key for a given dialect.
func (c *Credentials) SetAPIKey(dialect, apiKey string) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderCredentials)
	}
	c.Providers[dialect] = ProviderCredentials{APIKey: apiKey}
}

func credentialsPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.json"), nil
}

// envKeyByDialect names the conventional environment variable each hosted
// dialect's key is read from before falling back to credentials.json.
// Bedrock's value is the "accessKeyId:secretAccessKey:region" triple the
// adapter splits itself; leaving it unset falls back to the ambient AWS
// credential chain.
var envKeyByDialect = map[string]string{
	"anthropic":        "ANTHROPIC_API_KEY",
	"openai-responses": "OPENAI_API_KEY",
	"codex":            "CODEX_OAUTH_TOKEN",
	"google":           "GOOGLE_API_KEY",
	"bedrock":          "AWS_BEDROCK_CREDENTIALS",
	"zen":              "OPENCODE_ZEN_API_KEY",
}

// CredentialStore implements provider.CredentialSource: environment
// variables take priority (so a shell export always wins without editing
// credentials.json), falling back to the on-disk store.
type CredentialStore struct {
	creds *Credentials
}

// NewCredentialStore wraps creds (may be nil, treated as empty) as a
// provider.CredentialSource.
func NewCredentialStore(creds *Credentials) *CredentialStore {
	return &CredentialStore{creds: creds}
}

// APIKey returns the key for dialect and whether one was found.
func (c *CredentialStore) APIKey(dialect string) (string, bool) {
	if env, ok := envKeyByDialect[dialect]; ok {
		if v := os.Getenv(env); v != "" {
			return v, true
		}
	}
	v := c.creds.GetAPIKey(dialect)
	return v, v != ""
}
