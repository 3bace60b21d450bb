package openai

import (
	"regexp"
	"strings"
)

// reasoningModelRe matches model families that require a reasoning_effort
// field on some OpenAI-compatible gateways.
var reasoningModelRe = regexp.MustCompile(`(?i)codex|\bgpt-5|\bo[1-9]|deepseek-r1|qwq`)

// validEfforts are the accepted directive suffixes. "mini" is an alias that
// normalizes to "minimal".
var validEfforts = map[string]string{
	"mini":    "minimal",
	"minimal": "minimal",
	"low":     "low",
	"medium":  "medium",
	"high":    "high",
}

// SplitModelDirective strips an inline effort directive ("model@high" or
// "model#low") from a model name. It returns the transmitted model name and
// the normalized effort, or ("", model unchanged) when no valid directive is
// present. Stripping is idempotent for inputs without a directive.
func SplitModelDirective(model string) (string, string) {
	idx := strings.LastIndexAny(model, "@#")
	if idx <= 0 {
		return model, ""
	}
	effort, ok := validEfforts[strings.ToLower(model[idx+1:])]
	if !ok {
		return model, ""
	}
	return model[:idx], effort
}

// ResolveReasoningEffort decides the reasoning_effort value for a model:
// an explicit directive wins; otherwise reasoning-class model names infer
// "medium"; anything else sends no effort field.
func ResolveReasoningEffort(model string) (string, string) {
	name, effort := SplitModelDirective(model)
	if effort != "" {
		return name, effort
	}
	if reasoningModelRe.MatchString(name) {
		return name, "medium"
	}
	return name, ""
}
