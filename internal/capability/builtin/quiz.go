package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-agent/internal/capability"
)

const quizIntro = "Starting the Personality Quiz. I will ask you 8 quick questions about your personality. You can give me more context and I can understand the spectrum."

var quizQuestions = []string{
	"Do you prefer to meet new people or stick with a few close friends?",
	"Do you prefer facts and details or big ideas and possibilities?",
	"Do you make decisions with your head or your heart?",
	"Halfway done. Do you plan your work in advance or decide as you go?",
	"Do you unwind by being alone or hanging out with others?",
	"Do you learn better with hands-on experience or through theories and concepts?",
	"Almost done. In relationships, is being logical or empathetic more important to you?",
	"Last question. Give me context. What would you say your biggest strengths are?",
}

const quizPrompt = "Based on the following responses to a personality quiz, what is the likely Myers-Briggs type? " +
	"Each answer corresponds to one of the MBTI dichotomies: Extraversion (E) vs. Introversion (I), " +
	"Sensing (S) vs. Intuition (N), Thinking (T) vs. Feeling (F), and Judging (J) vs. Perceiving (P). " +
	"Respond with the 4 letters, and very briefly tell me what that personality type means in 2 short sentences."

// PersonalityQuiz asks a fixed set of questions and has the text generator
// guess a Myers-Briggs type from the answers. Answers live only for the
// duration of one quiz.
type PersonalityQuiz struct {
	gen Generator
}

func NewPersonalityQuiz(gen Generator) (*PersonalityQuiz, error) {
	if gen == nil {
		return nil, errors.New("builtin: generator must not be nil")
	}
	return &PersonalityQuiz{gen: gen}, nil
}

func (q *PersonalityQuiz) Name() string { return "personality_quiz" }

func (q *PersonalityQuiz) TriggerPhrases() []string {
	return []string{"start personality quiz", "personality quiz"}
}

func (q *PersonalityQuiz) Invoke(ctx context.Context, h capability.Handle) (string, error) {
	if err := h.Speak(ctx, quizIntro); err != nil {
		return "", fmt.Errorf("builtin: personality quiz: speak: %w", err)
	}

	answers := make([]string, 0, len(quizQuestions))
	for _, question := range quizQuestions {
		if err := h.Speak(ctx, question); err != nil {
			return "", fmt.Errorf("builtin: personality quiz: speak: %w", err)
		}
		answer, err := h.Listen(ctx)
		if err != nil {
			return "", fmt.Errorf("builtin: personality quiz: listen: %w", err)
		}
		answers = append(answers, strings.TrimSpace(answer))
	}

	var prompt strings.Builder
	prompt.WriteString(quizPrompt)
	for i, question := range quizQuestions {
		fmt.Fprintf(&prompt, "\nQ: %s\nA: %s", question, answers[i])
	}
	prediction, err := q.gen.Generate(ctx, prompt.String())
	if err != nil {
		return "", fmt.Errorf("builtin: personality quiz: generate: %w", err)
	}
	prediction = strings.TrimSpace(prediction)
	if prediction == "" {
		return "", errors.New("builtin: personality quiz: empty prediction")
	}

	var summary strings.Builder
	summary.WriteString("Here are your responses to the personality quiz:")
	for i, a := range answers {
		fmt.Fprintf(&summary, "\nQ%d: %s", i+1, a)
	}
	summary.WriteString("\nHere is your result: " + prediction)

	if err := h.Speak(ctx, summary.String()); err != nil {
		return "", fmt.Errorf("builtin: personality quiz: speak: %w", err)
	}
	return summary.String(), nil
}
