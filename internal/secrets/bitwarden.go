package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const DefaultBitwardenAPIURL = "https://api.bitwarden.com"

type BitwardenConfig struct {
	APIURL      string
	AccessToken string
	// SecretID maps a configuration key to a Bitwarden secret id.
	// Defaults to the <KEY>_SECRET_ID environment variable.
	SecretID func(key string) string
	Timeout  time.Duration
}

// Bitwarden reads secrets from Bitwarden Secrets Manager.
type Bitwarden struct {
	baseURL  string
	token    string
	secretID func(string) string
	client   *http.Client
}

func NewBitwarden(cfg BitwardenConfig, client *http.Client) *Bitwarden {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		baseURL = DefaultBitwardenAPIURL
	}
	secretID := cfg.SecretID
	if secretID == nil {
		secretID = func(key string) string {
			return strings.TrimSpace(os.Getenv(key + "_SECRET_ID"))
		}
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Bitwarden{
		baseURL:  baseURL,
		token:    strings.TrimSpace(cfg.AccessToken),
		secretID: secretID,
		client:   client,
	}
}

func (b *Bitwarden) Name() string { return "bitwarden" }

type bitwardenSecret struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (b *Bitwarden) Lookup(ctx context.Context, key string) (string, error) {
	id := b.secretID(key)
	if b.token == "" || id == "" {
		return "", ErrNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/secrets/"+id, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bitwarden request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("bitwarden returned status %d", resp.StatusCode)
	}

	var secret bitwardenSecret
	if err := json.NewDecoder(resp.Body).Decode(&secret); err != nil {
		return "", fmt.Errorf("decode bitwarden secret: %w", err)
	}
	if secret.Value == "" {
		return "", ErrNotFound
	}
	return secret.Value, nil
}
