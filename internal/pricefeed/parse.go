package pricefeed

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/theirongolddev/ccmeter/internal/config"
)

// entry is one model in a LiteLLM price document. Prices are per token.
type entry struct {
	Provider       string   `json:"litellm_provider"`
	Mode           string   `json:"mode"`
	InputPerToken  *float64 `json:"input_cost_per_token"`
	OutputPerToken *float64 `json:"output_cost_per_token"`
	CacheWrite     *float64 `json:"cache_creation_input_token_cost"`
	CacheRead      *float64 `json:"cache_read_input_token_cost"`
}

// Parse extracts Anthropic models from a LiteLLM price document and converts
// them to per-million-token prices. Entries that don't decode are skipped.
func Parse(body []byte) (map[string]config.ModelPricing, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("pricefeed: parsing document: %w", err)
	}

	out := make(map[string]config.ModelPricing)
	for name, msg := range raw {
		var e entry
		if err := json.Unmarshal(msg, &e); err != nil {
			continue
		}
		if e.Provider != "anthropic" || e.InputPerToken == nil || e.OutputPerToken == nil {
			continue
		}
		if e.Mode != "" && e.Mode != "chat" {
			continue
		}

		name = strings.TrimPrefix(name, "anthropic/")
		out[name] = config.ModelPricing{
			InputPerMTok:      perMillion(e.InputPerToken),
			OutputPerMTok:     perMillion(e.OutputPerToken),
			CacheWritePerMTok: perMillion(e.CacheWrite),
			CacheReadPerMTok:  perMillion(e.CacheRead),
		}
	}
	return out, nil
}

func perMillion(v *float64) float64 {
	if v == nil {
		return 0
	}
	// Round off float noise from the per-token representation.
	return math.Round(*v*1e12) / 1e6
}
