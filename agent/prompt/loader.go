package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/receptionist.txt
var receptionistRaw string

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Receptionist string
}

// LoadPromptSet returns the trimmed prompt strings. Safe to call concurrently;
// the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Receptionist: strings.TrimSpace(receptionistRaw),
	}
}
