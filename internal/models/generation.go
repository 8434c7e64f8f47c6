package models

// GenerateOptions tunes a single text-generation call
type GenerateOptions struct {
	System      string  // optional system instruction
	Temperature float32 // 0 uses the provider default
	MaxTokens   int     // 0 uses the provider default
}
