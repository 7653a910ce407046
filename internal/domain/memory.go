package domain

import (
	"fmt"
	"sync"
	"time"
)

// SummaryKind selects one of the rolling summaries kept next to the turn log.
type SummaryKind string

const (
	SummaryInteraction SummaryKind = "interaction"
	SummaryDay         SummaryKind = "day"
	SummaryWeek        SummaryKind = "week"
)

// Summary is a cache derived from the turn log. It is replaced, never merged.
type Summary struct {
	Text      string    `json:"text" toml:"text"`
	UpdatedAt time.Time `json:"updatedAt" toml:"updated_at"`
}

// Summaries groups the three rolling summaries.
type Summaries struct {
	LastInteraction Summary `json:"lastInteraction" toml:"last_interaction"`
	LastDay         Summary `json:"lastDay" toml:"last_day"`
	LastWeek        Summary `json:"lastWeek" toml:"last_week"`
}

// ContextVolume is a summarised slice of what the agent knows about the user.
type ContextVolume struct {
	Summary          string    `json:"summary" toml:"summary"`
	LastSummarized   time.Time `json:"lastSummarized" toml:"last_summarized"`
	RelevantMessages []Turn    `json:"relevantMessages" toml:"relevant_messages"`
}

// UserMemory holds facts about the person the agent talks to.
type UserMemory struct {
	Name        string        `json:"name" toml:"name"`
	YearOfBirth int           `json:"yearOfBirth" toml:"year_of_birth"`
	Likes       ContextVolume `json:"likes" toml:"likes"`
	Dislikes    ContextVolume `json:"dislikes" toml:"dislikes"`
}

// MemorySnapshot is a plain copy of Memory used for persistence.
type MemorySnapshot struct {
	Turns     []Turn
	Summaries Summaries
	User      UserMemory
}

// Memory is the append-only conversation log owned by one Agent. All methods
// are safe for concurrent use; readers always receive copies.
type Memory struct {
	mu        sync.RWMutex
	turns     []Turn
	summaries Summaries
	user      UserMemory
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{}
}

// RestoreMemory rebuilds a memory from a snapshot. Turn sequence numbers are
// reassigned from their position so a hand-edited record cannot break ordering.
func RestoreMemory(s MemorySnapshot) *Memory {
	m := &Memory{
		turns:     make([]Turn, len(s.Turns)),
		summaries: s.Summaries,
		user:      cloneUserMemory(s.User),
	}
	copy(m.turns, s.Turns)
	for i := range m.turns {
		m.turns[i].Seq = i
	}
	return m
}

// Append adds t to the end of the log and returns it with its sequence number.
func (m *Memory) Append(t Turn) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(t)
}

// AppendIfLatestUser appends t only when the most recent user turn has ID
// anchorID. It reports whether the append happened.
func (m *Memory) AppendIfLatestUser(anchorID string, t Turn) (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest, ok := m.lastUserLocked()
	if !ok || latest.ID != anchorID {
		return Turn{}, false
	}
	return m.appendLocked(t), true
}

func (m *Memory) appendLocked(t Turn) Turn {
	t.Seq = len(m.turns)
	m.turns = append(m.turns, t)
	return t
}

// Recent returns the last n turns in chronological order.
func (m *Memory) Recent(n int) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(m.turns)-start)
	copy(out, m.turns[start:])
	return out
}

// MostRecentUserTurn scans backwards for the latest user turn.
func (m *Memory) MostRecentUserTurn() (Turn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUserLocked()
}

func (m *Memory) lastUserLocked() (Turn, bool) {
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Role == RoleUser {
			return m.turns[i], true
		}
	}
	return Turn{}, false
}

// Len returns the number of recorded turns.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Turns returns a copy of the full log.
func (m *Memory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// TurnsSince returns the turns created at or after since.
func (m *Memory) TurnsSince(since time.Time) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Turns are appended in time order, so the window is a suffix.
	i := len(m.turns)
	for i > 0 && !m.turns[i-1].CreatedAt.Before(since) {
		i--
	}
	out := make([]Turn, len(m.turns)-i)
	copy(out, m.turns[i:])
	return out
}

// Summaries returns the current summaries.
func (m *Memory) Summaries() Summaries {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaries
}

// ReplaceSummary overwrites one summary.
func (m *Memory) ReplaceSummary(kind SummaryKind, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{Text: text, UpdatedAt: at.UTC()}
	switch kind {
	case SummaryInteraction:
		m.summaries.LastInteraction = s
	case SummaryDay:
		m.summaries.LastDay = s
	case SummaryWeek:
		m.summaries.LastWeek = s
	default:
		return fmt.Errorf("domain: unknown summary kind %q", kind)
	}
	return nil
}

// UserMemory returns a copy of the user facts.
func (m *Memory) UserMemory() UserMemory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneUserMemory(m.user)
}

// SetUserMemory replaces the user facts.
func (m *Memory) SetUserMemory(u UserMemory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = cloneUserMemory(u)
}

// Snapshot returns a consistent copy of the whole memory.
func (m *Memory) Snapshot() MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := make([]Turn, len(m.turns))
	copy(turns, m.turns)
	return MemorySnapshot{
		Turns:     turns,
		Summaries: m.summaries,
		User:      cloneUserMemory(m.user),
	}
}

func cloneUserMemory(u UserMemory) UserMemory {
	u.Likes.RelevantMessages = append([]Turn(nil), u.Likes.RelevantMessages...)
	u.Dislikes.RelevantMessages = append([]Turn(nil), u.Dislikes.RelevantMessages...)
	return u
}
