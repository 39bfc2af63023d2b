package config

import (
	"fmt"
	"os"

	"github.com/layer-3/clearway/core"
	"gopkg.in/yaml.v3"
)

// TokenEntry is one account token in the import file
type TokenEntry struct {
	Token  string                  `yaml:"token"`
	Tier   string                  `yaml:"tier"`
	Quotas map[core.Capability]int `yaml:"quotas,omitempty"`
}

// TokenFile is the YAML document listing tokens to import at startup:
//
//	tokens:
//	  - token: "sso-rw=abc;sso=abc"
//	    tier: elevated
//	    quotas:
//	      heavy: 20
type TokenFile struct {
	Tokens []TokenEntry `yaml:"tokens"`
}

// LoadTokenFile reads and validates a token import file
func LoadTokenFile(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var f TokenFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	for i := range f.Tokens {
		e := &f.Tokens[i]
		if core.ParseTokenID(e.Token) == "" {
			return nil, fmt.Errorf("token entry %d: %w", i, core.ErrInvalidToken)
		}
		if e.Tier == "" {
			e.Tier = string(core.TierStandard)
		}
		if _, err := core.ParseTier(e.Tier); err != nil {
			return nil, fmt.Errorf("token entry %d: %w", i, err)
		}
	}
	return &f, nil
}
