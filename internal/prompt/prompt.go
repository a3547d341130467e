// Package prompt builds generation requests for the refinement loop.
//
// Every request is assembled fresh from its inputs: the task description,
// injected prerequisite definitions, and on refinement turns the previous
// rules plus the oracle's feedback. The generator never sees accumulated
// hidden state; what the builder emits is the entire context.
package prompt

import (
	"fmt"
	"strings"

	"rtecgen/internal/llm"
)

const defaultSystemPrompt = `You are an expert in the Event Calculus and RTEC (Run-Time Event Calculus).
You write hierarchical fluent definitions as Prolog rules using initiatedAt/2,
terminatedAt/2, holdsFor/2, and happensAt/2.

Respond with the rules inside a single ` + "```prolog" + ` code block. Do not
restate the task or explain the rules outside the block.`

// Builder assembles per-turn generation requests for one concept.
// The zero value is not usable; construct with NewBuilder.
type Builder struct {
	systemPrompt string
	description  string
	prereqBlock  string
}

// Option configures a Builder
type Option func(*Builder)

// WithSystemPrompt replaces the default system prompt, e.g. to add domain
// knowledge for maritime or activity-recognition rule sets.
func WithSystemPrompt(system string) Option {
	return func(b *Builder) { b.systemPrompt = system }
}

// NewBuilder creates a builder for a concept with the given task description
// and the formatted prerequisite definitions block (empty when the concept
// has no materialized prerequisites).
func NewBuilder(description, prereqBlock string, opts ...Option) *Builder {
	b := &Builder{
		systemPrompt: defaultSystemPrompt,
		description:  description,
		prereqBlock:  prereqBlock,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initial builds the first-turn request: task description plus any
// prerequisite definitions available for reuse.
func (b *Builder) Initial() []llm.Message {
	var user strings.Builder
	user.WriteString("Write RTEC rules for the following activity.\n\n")
	fmt.Fprintf(&user, "Activity description:\n%s\n", b.description)

	if b.prereqBlock != "" {
		user.WriteString("\nPreviously defined fluents you may reference:\n\n")
		user.WriteString(b.prereqBlock)
		user.WriteString("\n")
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: b.systemPrompt},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// Refinement builds a follow-up request embedding the previous rules and the
// oracle's feedback verbatim. Feedback is never summarized or filtered; the
// generator sees the oracle's exact diagnostics.
func (b *Builder) Refinement(previousRules, feedback string) []llm.Message {
	messages := b.Initial()

	messages = append(messages, llm.Message{
		Role:    llm.RoleAssistant,
		Content: fmt.Sprintf("```prolog\n%s\n```", previousRules),
	})

	var user strings.Builder
	user.WriteString("Your rules were evaluated against the reference definition. ")
	user.WriteString("Revise them to address the feedback below.\n\n")
	user.WriteString("Evaluation feedback:\n")
	user.WriteString(feedback)
	user.WriteString("\n\nRespond with the complete corrected rules.")

	return append(messages, llm.Message{Role: llm.RoleUser, Content: user.String()})
}

// Render flattens a message list into a single text form for recording in
// the turn history.
func Render(messages []llm.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", m.Role, m.Content)
	}
	return sb.String()
}
