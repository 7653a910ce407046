package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-agent/internal/domain"
)

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "upstream" }
func (e statusErr) HTTPStatusCode() int { return e.code }

func newManager(t *testing.T, agent *domain.Agent, gen Generator) (*ContextManager, *countingMatcher) {
	t.Helper()
	matcher := &countingMatcher{inner: testRegistry(t)}
	m, err := NewContextManager(agent, matcher, gen, ManagerConfig{Now: testNow})
	require.NoError(t, err)
	return m, matcher
}

func TestNewContextManager_Validation(t *testing.T) {
	gen := &mockGenerator{}
	_, err := NewContextManager(nil, &countingMatcher{}, gen, ManagerConfig{})
	require.Error(t, err)
	_, err = NewContextManager(testAgent(), nil, gen, ManagerConfig{})
	require.Error(t, err)
	_, err = NewContextManager(testAgent(), &countingMatcher{}, nil, ManagerConfig{})
	require.Error(t, err)
}

func TestManage_ColdStartSkipsMatchingAndMemory(t *testing.T) {
	agent := testAgent()
	gen := &mockGenerator{responses: []genResponse{{text: "  Hello, I am Ada.  "}}}
	m, matcher := newManager(t, agent, gen)

	d, err := m.Manage(context.Background(), Request{ColdStart: true, Utterance: "call me maybe"})
	require.NoError(t, err)
	require.Equal(t, DecisionResponse, d.Kind)
	require.Equal(t, "Hello, I am Ada.", d.Text)

	require.Zero(t, matcher.calls)
	require.Zero(t, agent.Memory.Len())
	require.Equal(t, 1, gen.calls())
	require.Contains(t, gen.prompts[0], "You are Ada.")
	require.Contains(t, gen.prompts[0], "very first moment")
}

func TestManage_CapabilityMatchSkipsGeneration(t *testing.T) {
	agent := testAgent()
	agent.Memory.Append(domain.NewTurn(domain.RoleUser, "call someone", testNow()))
	gen := &mockGenerator{}
	m, _ := newManager(t, agent, gen)

	d, err := m.Manage(context.Background(), Request{Utterance: "call someone"})
	require.NoError(t, err)
	require.Equal(t, DecisionCapability, d.Kind)
	require.Equal(t, "pronto", d.Capability.Name())
	require.Empty(t, d.Text)

	require.Zero(t, gen.calls())
	require.Equal(t, 1, agent.Memory.Len())
}

func TestManage_ConversationalPathRecordsOneMoodTurn(t *testing.T) {
	agent := testAgent()
	user := agent.Memory.Append(domain.NewTurn(domain.RoleUser, "what a nice day", testNow()))
	gen := &mockGenerator{responses: []genResponse{
		{text: "Cheerful and chatty."},
		{text: "It really is, shall we go for a walk?"},
	}}
	m, _ := newManager(t, agent, gen)

	d, err := m.Manage(context.Background(), Request{Utterance: user.Content, Anchor: user.ID})
	require.NoError(t, err)
	require.Equal(t, DecisionResponse, d.Kind)
	require.Equal(t, "It really is, shall we go for a walk?", d.Text)

	turns := agent.Memory.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, domain.RoleSystem, turns[1].Role)
	require.Equal(t, "Cheerful and chatty.", turns[1].Content)

	require.Len(t, gen.prompts, 2)
	require.Contains(t, gen.prompts[0], "Mood Axioms:")
	require.Contains(t, gen.prompts[0], "- When the user is sad: become gentle")
	require.Contains(t, gen.prompts[0], "Current User Message:\nwhat a nice day")
	require.Contains(t, gen.prompts[1], "system: Cheerful and chatty.")
}

func TestManage_MoodFailureLeavesMemoryUntouched(t *testing.T) {
	agent := testAgent()
	agent.Memory.Append(domain.NewTurn(domain.RoleUser, "what a nice day", testNow()))
	gen := &mockGenerator{responses: []genResponse{{err: errors.New("backend down")}}}
	m, _ := newManager(t, agent, gen)

	_, err := m.Manage(context.Background(), Request{Utterance: "what a nice day"})
	ue := requireCode(t, err, ErrorGenerationFailed)
	require.Equal(t, "mood_error", ue.Reason)
	require.Equal(t, 1, agent.Memory.Len())
	require.Equal(t, 1, gen.calls())
}

func TestManage_ResponseFailureDiscardsMoodTurn(t *testing.T) {
	agent := testAgent()
	agent.Memory.Append(domain.NewTurn(domain.RoleUser, "what a nice day", testNow()))
	gen := &mockGenerator{responses: []genResponse{
		{text: "Cheerful."},
		{err: statusErr{code: 429}},
	}}
	m, _ := newManager(t, agent, gen)

	_, err := m.Manage(context.Background(), Request{Utterance: "what a nice day"})
	ue := requireCode(t, err, ErrorGenerationFailed)
	require.Equal(t, "response_rate_limited", ue.Reason)
	require.Equal(t, 1, agent.Memory.Len())
}

func TestManage_BlankGenerationIsAFailure(t *testing.T) {
	agent := testAgent()
	gen := &mockGenerator{responses: []genResponse{{text: "   \n"}}}
	m, _ := newManager(t, agent, gen)

	_, err := m.Manage(context.Background(), Request{ColdStart: true})
	ue := requireCode(t, err, ErrorGenerationFailed)
	require.Equal(t, "cold_start_empty", ue.Reason)
}

func TestManage_GenerationTimeout(t *testing.T) {
	agent := testAgent()
	slow := GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	m, err := NewContextManager(agent, &countingMatcher{inner: testRegistry(t)}, slow,
		ManagerConfig{GenerateTimeout: 10 * time.Millisecond, Now: testNow})
	require.NoError(t, err)

	_, err = m.Manage(context.Background(), Request{Utterance: "tell me a story"})
	ue := requireCode(t, err, ErrorGenerationFailed)
	require.Equal(t, "mood_timeout", ue.Reason)
	require.Zero(t, agent.Memory.Len())
}

func TestManage_StaleAnchorIsCausalityInversion(t *testing.T) {
	agent := testAgent()
	first := agent.Memory.Append(domain.NewTurn(domain.RoleUser, "first question", testNow()))
	gen := &mockGenerator{responses: []genResponse{{text: "mood"}, {text: "answer"}}}
	gen.onCall = func(i int) {
		if i == 1 {
			agent.Memory.Append(domain.NewTurn(domain.RoleUser, "second question", testNow()))
		}
	}
	m, _ := newManager(t, agent, gen)

	_, err := m.Manage(context.Background(), Request{Utterance: first.Content, Anchor: first.ID})
	requireCode(t, err, ErrorCausalityInversion)
	require.Equal(t, 2, agent.Memory.Len())
	for _, turn := range agent.Memory.Turns() {
		require.Equal(t, domain.RoleUser, turn.Role)
	}
}

func TestManage_EmptyUtterance(t *testing.T) {
	m, _ := newManager(t, testAgent(), &mockGenerator{})
	_, err := m.Manage(context.Background(), Request{Utterance: "  "})
	requireCode(t, err, ErrorInvalidInput)
}

func TestManage_HistoryWindowBoundsPrompt(t *testing.T) {
	agent := testAgent()
	for i := 0; i < 15; i++ {
		agent.Memory.Append(domain.NewTurn(domain.RoleUser, "line-"+string(rune('a'+i)), testNow()))
	}
	gen := &mockGenerator{responses: []genResponse{{text: "mood"}, {text: "reply"}}}
	m, _ := newManager(t, agent, gen)

	_, err := m.Manage(context.Background(), Request{Utterance: "line-o"})
	require.NoError(t, err)
	require.NotContains(t, gen.prompts[0], "line-e")
	require.Contains(t, gen.prompts[0], "line-f")
	// The response window includes the mood turn and drops one more old line.
	require.NotContains(t, gen.prompts[1], "user: line-f")
	require.Equal(t, 1, strings.Count(gen.prompts[1], "system: mood"))
}

func TestDecisionKindString(t *testing.T) {
	require.Equal(t, "response", DecisionResponse.String())
	require.Equal(t, "capability", DecisionCapability.String())
	require.Equal(t, "unknown", DecisionKind(0).String())
}
