// Package scenario holds the per-conversation configuration: who the
// counterpart is, what the learner is practicing, and the persona system
// prompt that stays fixed for every turn of one conversation.
package scenario

import (
	"fmt"
	"strings"
)

// Scenario is immutable per-conversation configuration.
type Scenario struct {
	ID      string `yaml:"id" json:"id"`
	NPCName string `yaml:"npc_name" json:"npc_name"`
	Setting string `yaml:"setting" json:"setting"`
	Goal    string `yaml:"goal" json:"goal"`

	// Prompt overrides the builtin persona template. "{npc}" is replaced
	// with NPCName.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// SystemPrompt renders the persona prompt supplied as the first message of
// every chat request for this scenario.
func (s Scenario) SystemPrompt() string {
	if strings.TrimSpace(s.Prompt) != "" {
		return strings.ReplaceAll(s.Prompt, "{npc}", s.NPCName)
	}
	if tmpl, ok := builtinPrompts[s.ID]; ok {
		return fmt.Sprintf(tmpl, s.NPCName)
	}
	return fmt.Sprintf(defaultPrompt, s.NPCName)
}

func (s Scenario) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("scenario id is empty")
	}
	if strings.TrimSpace(s.NPCName) == "" {
		return fmt.Errorf("scenario %s: npc_name is empty", s.ID)
	}
	if strings.TrimSpace(s.Goal) == "" {
		return fmt.Errorf("scenario %s: goal is empty", s.ID)
	}
	return nil
}
