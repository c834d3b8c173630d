package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoBalance marks providers that cannot report an account balance; cost
// reconciliation then relies on accumulated per-call costs alone.
var ErrNoBalance = errors.New("provider reports no balance")

// CreditsSource reports the remaining provider balance before and after a
// batch so the cost can be cross-checked.
type CreditsSource interface {
	Provider() string
	Balance(ctx context.Context) (float64, error)
}

// OpenRouterCredits reads the credits endpoint of openrouter.ai.
type OpenRouterCredits struct {
	APIKey  string
	BaseURL string // test override; default https://openrouter.ai/api/v1
	hc      *http.Client
}

func (o *OpenRouterCredits) Provider() string { return "openrouter" }

func (o *OpenRouterCredits) Balance(ctx context.Context) (float64, error) {
	base := o.BaseURL
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}
	if o.hc == nil {
		o.hc = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/credits", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch credits: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("credits HTTP %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			TotalCredits float64 `json:"total_credits"`
			TotalUsage   float64 `json:"total_usage"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("parse credits: %w", err)
	}
	return out.Data.TotalCredits - out.Data.TotalUsage, nil
}

// OpenAICredits is the no-balance provider: OpenAI exposes usage, not a
// prepaid balance, so reconciliation uses accumulated costs.
type OpenAICredits struct{}

func (OpenAICredits) Provider() string { return "openai" }

func (OpenAICredits) Balance(ctx context.Context) (float64, error) {
	return 0, ErrNoBalance
}
