package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"voice-agent/internal/domain"
)

// Handle is what a capability sees of the running agent while it is invoked.
type Handle interface {
	AgentName() string
	Speak(ctx context.Context, text string) error
	Listen(ctx context.Context) (string, error)
}

// Capability is a named deterministic action triggered by a spoken phrase.
type Capability interface {
	Name() string
	TriggerPhrases() []string
	Invoke(ctx context.Context, h Handle) (string, error)
}

// Matcher decides whether an utterance triggers one of a capability's phrases.
// It returns a score; zero means no match.
type Matcher interface {
	Score(utterance string, phrases []string) int
}

// Registry maps capability names to implementations. It is filled at start-up
// and read-only afterwards.
type Registry struct {
	matcher Matcher
	order   []Capability
	byName  map[string]Capability
}

// Option configures a Registry.
type Option func(*Registry)

// WithMatcher replaces the default substring matcher.
func WithMatcher(m Matcher) Option {
	return func(r *Registry) {
		if m != nil {
			r.matcher = m
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		matcher: SubstringMatcher{},
		byName:  make(map[string]Capability),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return errors.New("capability: capability must not be nil")
	}
	name := strings.TrimSpace(c.Name())
	if name == "" {
		return errors.New("capability: name must not be empty")
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("capability: register %q: %w", name, domain.ErrDuplicateName)
	}
	r.byName[name] = c
	r.order = append(r.order, c)
	return nil
}

// Match returns the capability triggered by utterance. The highest score wins;
// equal scores keep registration order.
func (r *Registry) Match(utterance string) (Capability, bool) {
	if strings.TrimSpace(utterance) == "" {
		return nil, false
	}
	var (
		best      Capability
		bestScore int
	)
	for _, c := range r.order {
		score := r.matcher.Score(utterance, c.TriggerPhrases())
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, best != nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Names lists registered capabilities in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, c.Name())
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.order)
}

// Subset returns a registry holding only the named capabilities, keeping the
// original registration order and matcher. An empty list selects everything.
func (r *Registry) Subset(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := r.byName[n]; !ok {
			return nil, fmt.Errorf("capability: unknown capability %q", n)
		}
		want[n] = struct{}{}
	}

	sub := NewRegistry(WithMatcher(r.matcher))
	for _, c := range r.order {
		if _, ok := want[c.Name()]; ok {
			sub.byName[c.Name()] = c
			sub.order = append(sub.order, c)
		}
	}
	return sub, nil
}

// SubstringMatcher matches when any non-empty phrase is contained in the
// utterance, ignoring case. Every hit scores the same so registration order
// decides between overlapping phrases.
type SubstringMatcher struct{}

const substringScore = 1 << 20

func (SubstringMatcher) Score(utterance string, phrases []string) int {
	u := strings.ToLower(utterance)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(u, p) {
			return substringScore
		}
	}
	return 0
}

// FuzzyMatcher falls back to subsequence matching when no phrase is contained
// verbatim. Fuzzy hits below MinScore are ignored.
type FuzzyMatcher struct {
	MinScore int
}

func (f FuzzyMatcher) Score(utterance string, phrases []string) int {
	if s := (SubstringMatcher{}).Score(utterance, phrases); s > 0 {
		return s
	}
	min := f.MinScore
	if min < 1 {
		min = 1
	}

	u := strings.ToLower(strings.TrimSpace(utterance))
	best := 0
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		// The phrase is the pattern: every one of its characters must appear in
		// order somewhere in what was said.
		matches := fuzzy.Find(p, []string{u})
		if len(matches) == 0 {
			continue
		}
		if s := matches[0].Score; s >= min && s > best {
			best = s
		}
	}
	if best >= substringScore {
		best = substringScore - 1
	}
	return best
}

// Func adapts a plain function into a Capability.
type Func struct {
	name    string
	phrases []string
	fn      func(ctx context.Context, h Handle) (string, error)
}

// New returns a capability backed by fn.
func New(name string, phrases []string, fn func(ctx context.Context, h Handle) (string, error)) *Func {
	return &Func{name: name, phrases: append([]string(nil), phrases...), fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) TriggerPhrases() []string { return append([]string(nil), f.phrases...) }

func (f *Func) Invoke(ctx context.Context, h Handle) (string, error) {
	return f.fn(ctx, h)
}
