package gateway

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/learnforge/pkg/provider"
)

// Output allowances per operation.
const (
	breakdownMaxTokens = 400
	explainMaxTokens   = 800
)

const breakdownSystem = "You design curricula. Reply with a JSON array of short subtopic titles " +
	"ordered from foundational to advanced, and nothing else."

const explainSystem = "You are a patient tutor. Explain the requested subtopic clearly and " +
	"accurately in a few paragraphs, with one concrete example. Do not add a preamble."

func breakdownPrompt(p Payload) provider.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the topic %q into %d subtopics.", p.Topic, p.Count)
	if p.Level != "" {
		fmt.Fprintf(&b, " The learner level is %s.", p.Level)
	}
	return provider.Prompt{
		System:    breakdownSystem,
		User:      b.String(),
		MaxTokens: breakdownMaxTokens,
	}
}

func explainPrompt(p Payload, subtopic string) provider.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Explain %q as part of the topic %q.", subtopic, p.Topic)
	if p.Level != "" {
		fmt.Fprintf(&b, " The learner level is %s.", p.Level)
	}
	return provider.Prompt{
		System:    explainSystem,
		User:      b.String(),
		MaxTokens: explainMaxTokens,
	}
}
