package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// MockSuggestion is returned when every provider failed.
var MockSuggestion = Suggestion{
	Content:    "Thanks for your patience. Let me check that for you and get right back to you.",
	Confidence: 0.1,
	Provider:   ProviderMock,
}

// Attempt records one provider call made by the manager.
type Attempt struct {
	Provider  string `json:"provider"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Result is always populated; Provider == ProviderMock marks the fallback.
type Result struct {
	Suggestion
	Attempts []Attempt `json:"attempts"`
}

func (r Result) IsMock() bool { return r.Provider == ProviderMock }

type AnalysisResult struct {
	Analysis
	Attempts []Attempt `json:"attempts"`
}

// Manager holds the configured providers in a fixed order and runs
// single-attempt fallback across them. It never returns an error.
type Manager struct {
	providers map[string]Provider
	order     []string
	timeout   time.Duration
	rr        atomic.Uint64
	log       *logrus.Logger
}

// NewManager keeps providers listed in order first (in that order), then any
// remaining providers sorted by name.
func NewManager(providers []Provider, order []string, timeout time.Duration, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	m := &Manager{
		providers: make(map[string]Provider, len(providers)),
		timeout:   timeout,
		log:       log,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		m.providers[p.Name()] = p
	}

	seen := make(map[string]struct{}, len(m.providers))
	for _, name := range order {
		if _, ok := m.providers[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		m.order = append(m.order, name)
	}
	var rest []string
	for name := range m.providers {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	m.order = append(m.order, rest...)
	return m
}

// Providers returns the static fallback order.
func (m *Manager) Providers() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Generate tries preferred once (if configured), then the remaining providers
// in static order, and returns the mock if all of them fail.
func (m *Manager) Generate(ctx context.Context, req SuggestionRequest, preferred string) Result {
	var res Result
	tried := map[string]struct{}{}
	if preferred != "" {
		if _, ok := m.providers[preferred]; ok {
			if s := m.try(ctx, preferred, req, &res.Attempts); s != nil {
				res.Suggestion = *s
				return res
			}
			tried[preferred] = struct{}{}
		}
	}
	return m.fallback(ctx, req, tried, res)
}

// GenerateBalanced starts from a rotating provider. A failure there goes to the
// ordered fallback, skipping the provider that just failed.
func (m *Manager) GenerateBalanced(ctx context.Context, req SuggestionRequest) Result {
	var res Result
	if len(m.order) == 0 {
		return m.mock(res)
	}
	idx := (m.rr.Add(1) - 1) % uint64(len(m.order))
	chosen := m.order[idx]
	if s := m.try(ctx, chosen, req, &res.Attempts); s != nil {
		res.Suggestion = *s
		return res
	}
	return m.fallback(ctx, req, map[string]struct{}{chosen: {}}, res)
}

func (m *Manager) fallback(ctx context.Context, req SuggestionRequest, tried map[string]struct{}, res Result) Result {
	for _, name := range m.order {
		if _, done := tried[name]; done {
			continue
		}
		if s := m.try(ctx, name, req, &res.Attempts); s != nil {
			res.Suggestion = *s
			return res
		}
	}
	return m.mock(res)
}

func (m *Manager) mock(res Result) Result {
	m.log.WithField("attempts", len(res.Attempts)).Warn("all llm providers failed, returning mock suggestion")
	res.Suggestion = MockSuggestion
	return res
}

func (m *Manager) try(ctx context.Context, name string, req SuggestionRequest, attempts *[]Attempt) *Suggestion {
	p := m.providers[name]
	start := time.Now()

	var s *Suggestion
	err := m.call(ctx, func(cctx context.Context) error {
		var cerr error
		s, cerr = p.GenerateSuggestion(cctx, req)
		return cerr
	})
	if err == nil && (s == nil || s.Content == "") {
		err = ErrEmptyResponse
	}

	a := Attempt{Provider: name, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		a.Error = err.Error()
		*attempts = append(*attempts, a)
		m.log.WithError(err).WithField("provider", name).Warn("suggestion provider failed")
		return nil
	}
	*attempts = append(*attempts, a)
	s.Provider = name
	return s
}

// call applies the per-attempt timeout and turns adapter panics into errors.
func (m *Manager) call(ctx context.Context, fn func(context.Context) error) (err error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Analyze runs the ordered fallback for conversation analysis; a neutral,
// empty analysis comes back when every provider fails.
func (m *Manager) Analyze(ctx context.Context, transcript string) AnalysisResult {
	var res AnalysisResult
	for _, name := range m.order {
		p := m.providers[name]
		start := time.Now()
		var a *Analysis
		err := m.call(ctx, func(cctx context.Context) error {
			var cerr error
			a, cerr = p.AnalyzeConversation(cctx, transcript)
			return cerr
		})
		if err == nil && a == nil {
			err = ErrEmptyResponse
		}
		att := Attempt{Provider: name, LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			att.Error = err.Error()
			res.Attempts = append(res.Attempts, att)
			m.log.WithError(err).WithField("provider", name).Warn("analysis provider failed")
			continue
		}
		res.Attempts = append(res.Attempts, att)
		res.Analysis = *a
		res.Analysis.Provider = name
		return res
	}
	res.Analysis = Analysis{Sentiment: "neutral", Provider: ProviderMock}
	return res
}

// HealthCheck checks every provider concurrently; values are "ok" or the error text.
func (m *Manager) HealthCheck(ctx context.Context) map[string]string {
	out := make(map[string]string, len(m.order))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range m.order {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			status := "ok"
			if err := m.call(ctx, m.providers[name].HealthCheck); err != nil {
				status = err.Error()
			}
			mu.Lock()
			out[name] = status
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

func (m *Manager) Close() error {
	var first error
	for _, name := range m.order {
		if err := m.providers[name].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
