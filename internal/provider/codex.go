package provider

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const (
	codexDialect = "codex"
	codexURL     = "https://chatgpt.com/backend-api/codex/responses"
)

// codexClaims is the subset of fields the Codex OAuth JWT carries that this
// adapter needs: the ChatGPT account id the Responses API backend requires
// on every Codex request (§4.B "Codex additionally requires JWT parsing to
// extract a ChatGPT account id for the chatgpt-account-id header").
type codexClaims struct {
	jwt.RegisteredClaims
	AuthClaims struct {
		ChatGPTAccountID string `json:"chatgpt_account_id"`
	} `json:"https://api.openai.com/auth"`
}

// chatgptAccountIDFromJWT extracts the ChatGPT account id from a Codex OAuth
// access token without verifying its signature — the token was already
// validated by the OAuth exchange that produced it; this adapter only reads
// an embedded claim.
func chatgptAccountIDFromJWT(token string) (string, error) {
	parser := jwt.NewParser()
	claims := &codexClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("codex: parse JWT: %w", err)
	}
	if claims.AuthClaims.ChatGPTAccountID == "" {
		return "", fmt.Errorf("codex: JWT missing chatgpt_account_id claim")
	}
	return claims.AuthClaims.ChatGPTAccountID, nil
}

// newCodexProvider builds the Codex dialect adapter: the same Responses
// wire format as openaiResponsesProvider, but against Codex's own endpoint
// (no SDK — §4.B "issues its own SSE parser because the wire format is raw
// HTTP") and with the account-id header derived from the credential's JWT.
func newCodexProvider(creds CredentialSource) *openaiResponsesProvider {
	p := newOpenAIResponsesProvider(creds)
	p.dialect = codexDialect
	p.endpoint = codexURL
	p.extraHeaders = func(apiKey string) (map[string]string, error) {
		accountID, err := chatgptAccountIDFromJWT(apiKey)
		if err != nil {
			return nil, err
		}
		return map[string]string{"chatgpt-account-id": accountID}, nil
	}
	return p
}

// CodexFactory constructs the Codex dialect adapter.
type CodexFactory struct{}

func (CodexFactory) DialectName() string { return codexDialect }
func (CodexFactory) Create(creds CredentialSource) Provider {
	return newCodexProvider(creds)
}
