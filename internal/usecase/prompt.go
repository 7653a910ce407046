package usecase

import (
	"fmt"
	"strings"

	"voice-agent/internal/domain"
)

type promptContext struct {
	name        string
	personality domain.Personality
	moods       []domain.MoodAxiom
	summaries   domain.Summaries
}

func newPromptContext(a *domain.Agent) promptContext {
	pc := promptContext{
		name:        a.Name,
		personality: a.Personality,
		moods:       a.Moods,
	}
	if a.Memory != nil {
		pc.summaries = a.Memory.Summaries()
	}
	return pc
}

func buildColdStartPrompt(pc promptContext) string {
	return strings.Join([]string{
		identitySection(pc),
		"",
		"Task:",
		"This is the very first moment of the conversation. Nobody has spoken yet.",
		"Open the conversation in character with one or two short spoken sentences.",
		"",
		"Output Contract:",
		spokenOutputContract(),
	}, "\n")
}

func buildMoodPrompt(pc promptContext, current string, history []domain.Turn) string {
	return strings.Join([]string{
		identitySection(pc),
		"",
		"Mood Axioms:",
		moodAxioms(pc.moods),
		"",
		"Conversation So Far:",
		renderHistory(history),
		"",
		"Current User Message:",
		normalizePromptInput(current),
		"",
		"Task:",
		"Decide how your mood shifts in reaction to the current user message.",
		"Apply the mood axioms whose trigger fits the conversation.",
		"",
		"Output Contract:",
		"Return one or two sentences describing your current mood and how you intend to answer. " +
			"Do not answer the user yet.",
	}, "\n")
}

func buildResponsePrompt(pc promptContext, current string, history []domain.Turn) string {
	sections := []string{
		identitySection(pc),
		"",
		"Mood Axioms:",
		moodAxioms(pc.moods),
	}
	if s := summarySection(pc.summaries); s != "" {
		sections = append(sections, "", "What You Remember:", s)
	}
	sections = append(sections,
		"",
		"Conversation So Far:",
		renderHistory(history),
		"",
		"Current User Message:",
		normalizePromptInput(current),
		"",
		"Task:",
		"Answer the current user message in character.",
		"The latest system line in the conversation is your current mood; let it colour the answer.",
		"",
		"Output Contract:",
		spokenOutputContract(),
	)
	return strings.Join(sections, "\n")
}

func buildSummaryPrompt(pc promptContext, kind domain.SummaryKind, turns []domain.Turn) string {
	return strings.Join([]string{
		fmt.Sprintf("You are %s, writing private notes about your conversations.", pc.name),
		"",
		fmt.Sprintf("Conversation (last %s):", kind),
		renderHistory(turns),
		"",
		"Task:",
		"Summarise what was discussed, what the user shared about themselves, and anything left open.",
		"",
		"Output Contract:",
		"Return plain text, at most five sentences.",
	}, "\n")
}

func identitySection(pc promptContext) string {
	p := pc.personality
	lines := []string{
		"Role:",
		fmt.Sprintf("You are %s. %s", pc.name, normalizePromptInput(p.Description)),
	}
	if v := normalizePromptInput(p.Purpose); v != "" {
		lines = append(lines, "Purpose: "+v)
	}
	if v := normalizePromptInput(p.Language); v != "" {
		lines = append(lines, "Language: "+v)
	}
	if v := normalizePromptInput(p.Information); v != "" {
		lines = append(lines, "Background: "+v)
	}
	return strings.Join(lines, "\n")
}

func moodAxioms(moods []domain.MoodAxiom) string {
	if len(moods) == 0 {
		return "- Stay even-tempered."
	}
	lines := make([]string, 0, len(moods))
	for _, m := range moods {
		lines = append(lines, fmt.Sprintf("- When %s: %s",
			normalizePromptInput(m.Trigger), normalizePromptInput(m.Response)))
	}
	return strings.Join(lines, "\n")
}

func summarySection(s domain.Summaries) string {
	var lines []string
	if t := normalizePromptInput(s.LastWeek.Text); t != "" {
		lines = append(lines, "This week: "+t)
	}
	if t := normalizePromptInput(s.LastDay.Text); t != "" {
		lines = append(lines, "Today: "+t)
	}
	if t := normalizePromptInput(s.LastInteraction.Text); t != "" {
		lines = append(lines, "Last time: "+t)
	}
	return strings.Join(lines, "\n")
}

func renderHistory(turns []domain.Turn) string {
	if len(turns) == 0 {
		return "(nothing yet)"
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, normalizePromptInput(t.Content)))
	}
	return strings.Join(lines, "\n")
}

func spokenOutputContract() string {
	return "Return only the words to speak aloud. No markdown, no lists, no stage directions."
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
