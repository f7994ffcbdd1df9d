package services

import (
	"sort"
	"strings"
)

// RiskScanner performs the rule-based controlled-substance scan. It runs on
// every turn, independent of the LLM analyzer; its findings bias the
// analyzer prompt and are logged, but never set the risk level on their own.
type RiskScanner struct {
	keywords *Keywords
}

// SubstanceHit is one detected substance mention.
type SubstanceHit struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

// NewRiskScanner creates a scanner over the loaded dictionaries.
func NewRiskScanner(keywords *Keywords) *RiskScanner {
	return &RiskScanner{keywords: keywords}
}

// Scan returns every substance mentioned in the message, ordered by
// category then name for deterministic output.
func (s *RiskScanner) Scan(message string) []SubstanceHit {
	if message == "" {
		return nil
	}
	lower := strings.ToLower(message)

	var hits []SubstanceHit
	for category, names := range s.keywords.Substances {
		for _, name := range names {
			if strings.Contains(lower, strings.ToLower(name)) {
				hits = append(hits, SubstanceHit{Category: category, Name: name})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Category != hits[j].Category {
			return hits[i].Category < hits[j].Category
		}
		return hits[i].Name < hits[j].Name
	})
	return hits
}

// Names flattens hits into substance names for prompt embedding.
func SubstanceNames(hits []SubstanceHit) []string {
	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.Name)
	}
	return names
}
