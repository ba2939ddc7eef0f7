package models

import "strings"

type MergeMode string

const (
	MergeModeKeep    MergeMode = "keep"
	MergeModeReplace MergeMode = "replace"
)

type MergeDecision struct {
	Import bool      `json:"import" yaml:"import"`
	Mode   MergeMode `json:"mode" yaml:"mode"`
}

// MergePlan maps a user email to the decision for that account.
type MergePlan map[string]MergeDecision

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Lookup finds a decision by normalized email.
func (p MergePlan) Lookup(email string) (MergeDecision, bool) {
	email = NormalizeEmail(email)
	for k, d := range p {
		if NormalizeEmail(k) == email {
			return d, true
		}
	}
	return MergeDecision{}, false
}

type MergeCounts struct {
	Imported       int  `json:"imported"`
	Replaced       int  `json:"replaced"`
	Kept           int  `json:"kept"`
	Skipped        int  `json:"skipped"`
	Dropped        int  `json:"dropped"`
	ForcedPreserve bool `json:"forced_preserve"`
}
