package budget

import "fmt"

// Config caps the oracle usage of a single query. Zero means unlimited.
type Config struct {
	MaxTokens int64
	MaxCalls  int
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.MaxCalls < 0 {
		return fmt.Errorf("max_calls cannot be negative")
	}
	return nil
}

// IsZero reports whether the config defines no limits.
func (c Config) IsZero() bool { return c.MaxTokens == 0 && c.MaxCalls == 0 }
