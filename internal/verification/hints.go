package verification

import (
	"strings"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

type hintRule struct {
	key     string
	needles []string
	text    string
}

// Order is display order. Matching is case-insensitive.
var hintCatalogue = []hintRule{
	{key: "quota", needles: []string{"quota", "resource_exhausted"}, text: "The AI provider quota is used up. Add credits or wait for the daily reset, then retry."},
	{key: "billing", needles: []string{"billing", "credits"}, text: "The AI provider account has a billing problem. Check the payment method on the provider dashboard."},
	{key: "api_key", needles: []string{"api key", "api_key", "invalid key"}, text: "The AI provider API key is missing or invalid. Set the provider key in the server environment and restart it."},
	{key: "rate_limit", needles: []string{"rate limit", "http 429", "status 429", "too many requests"}, text: "The AI provider is rate limiting requests. Wait a moment before retrying."},
	{key: "metadata", needles: []string{"ipfs", "metadata"}, text: "The ticket metadata or buyer image could not be fetched. Check the IPFS gateway and the ticket's metadata_uri."},
	{key: "model", needles: []string{"model"}, text: "The configured AI model is unavailable. Update the model name or switch provider."},
	{key: "openai", needles: []string{"openai"}, text: "Provider OpenAI: see platform.openai.com for keys, usage and billing."},
	{key: "gemini", needles: []string{"gemini", "google"}, text: "Provider Gemini: see aistudio.google.com for keys and quota."},
	{key: "claude", needles: []string{"claude", "anthropic"}, text: "Provider Claude: see console.anthropic.com for keys and usage."},
	{key: "huggingface", needles: []string{"hugging face", "huggingface"}, text: "Provider Hugging Face: the free inference tier is limited and models can disappear; prefer another provider for face matching."},
}

// RemediationHints returns advisory operator guidance for an authority error
// message. Unmatched messages yield no hints.
func RemediationHints(message string) []ticketing.RemediationHint {
	lowered := strings.ToLower(message)
	if lowered == "" {
		return nil
	}
	var hints []ticketing.RemediationHint
	for _, rule := range hintCatalogue {
		for _, needle := range rule.needles {
			if strings.Contains(lowered, needle) {
				hints = append(hints, ticketing.RemediationHint{Key: rule.key, Text: rule.text})
				break
			}
		}
	}
	return hints
}
