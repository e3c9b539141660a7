package invoker

import (
	"strings"

	"github.com/modelrelay/modelrelay/pkg/models"
)

type modelCost struct {
	inputPerMTok  float64 // USD per million input tokens
	outputPerMTok float64 // USD per million output tokens
}

// defaultCosts holds published per-model pricing for the built-in kinds.
// Matching is by longest prefix, so dated snapshots inherit base pricing.
var defaultCosts = map[string]modelCost{
	"gpt-4o":                 {2.50, 10.00},
	"gpt-4o-mini":            {0.15, 0.60},
	"gpt-4-turbo":            {10.00, 30.00},
	"gpt-3.5-turbo":          {0.50, 1.50},
	"text-embedding-3-small": {0.02, 0},
	"text-embedding-3-large": {0.13, 0},
	"claude-3-5-sonnet":      {3.00, 15.00},
	"claude-3-5-haiku":       {0.80, 4.00},
	"claude-3-opus":          {15.00, 75.00},
	"claude-3-haiku":         {0.25, 1.25},
	"claude-sonnet-4":        {3.00, 15.00},
}

// estimateCost computes the dollar cost of one invocation. Descriptor config
// may override with explicit "cost_input_per_mtok"/"cost_output_per_mtok"
// values; local providers (ollama) carry no table entry and cost zero.
func estimateCost(desc *models.ProviderDescriptor, model string, inputTokens, outputTokens int64) float64 {
	cost, ok := configCost(desc)
	if !ok {
		cost, ok = lookupCost(model)
	}
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*cost.inputPerMTok + float64(outputTokens)/1e6*cost.outputPerMTok
}

func configCost(desc *models.ProviderDescriptor) (modelCost, bool) {
	if desc.Config == nil {
		return modelCost{}, false
	}
	in, okIn := desc.Config["cost_input_per_mtok"].(float64)
	out, okOut := desc.Config["cost_output_per_mtok"].(float64)
	if !okIn && !okOut {
		return modelCost{}, false
	}
	return modelCost{inputPerMTok: in, outputPerMTok: out}, true
}

func lookupCost(model string) (modelCost, bool) {
	best := ""
	for prefix := range defaultCosts {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return modelCost{}, false
	}
	return defaultCosts[best], true
}
