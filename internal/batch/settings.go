package batch

import (
	"context"
	"fmt"

	"github.com/acencia/atlas/internal/httpcore"
	"github.com/acencia/atlas/internal/llm"
	"github.com/acencia/atlas/internal/rules"
)

// processingSettings is the server's admin payload for the AI stages.
type processingSettings struct {
	Stage1Prompt  string `json:"stage1_prompt"`
	Stage2Prompt  string `json:"stage2_prompt"`
	Stage1Model   string `json:"stage1_model"`
	Stage2Model   string `json:"stage2_model"`
	Stage2Enabled bool   `json:"stage2_enabled"`
	Stage2Trigger string `json:"stage2_trigger"`
	MaxTextLength int    `json:"max_text_length"`
}

// LoadSettings fetches the AI and rule settings once; both are held for
// the whole batch so a mid-batch admin change cannot split behaviour. On
// error the built-in defaults are returned alongside it: the settings API
// is a secondary service and must never abort a batch, so callers log the
// error and proceed.
func LoadSettings(ctx context.Context, c *httpcore.Client) (llm.Settings, rules.Settings, error) {
	var ps processingSettings
	if err := c.Get(ctx, "/admin/processing-settings", nil, &ps); err != nil {
		return llm.DefaultSettings(), rules.DefaultSettings(), fmt.Errorf("load processing settings: %w", err)
	}
	var rs rules.Settings
	if err := c.Get(ctx, "/admin/rule-settings", nil, &rs); err != nil {
		return llm.DefaultSettings(), rules.DefaultSettings(), fmt.Errorf("load rule settings: %w", err)
	}
	return llm.Settings{
		Stage1Prompt:  ps.Stage1Prompt,
		Stage2Prompt:  ps.Stage2Prompt,
		Stage1Model:   ps.Stage1Model,
		Stage2Model:   ps.Stage2Model,
		Stage2Enabled: ps.Stage2Enabled,
		Stage2Trigger: ps.Stage2Trigger,
		MaxTextLength: ps.MaxTextLength,
	}, rs, nil
}
