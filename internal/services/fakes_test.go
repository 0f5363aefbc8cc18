package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/providers/llm"
	"github.com/yoockh/callpilot/internal/utils"
	"gorm.io/datatypes"
)

var errBoom = errors.New("boom")

type emitted struct {
	Target string // user:<id>, company:<id>, ...
	Event  string
	Data   any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []emitted
}

func (n *recordingNotifier) add(target, event string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{Target: target, Event: event, Data: data})
}

func (n *recordingNotifier) EmitToUser(id, event string, p any)    { n.add("user:"+id, event, p) }
func (n *recordingNotifier) EmitToMember(co, id, event string, p any) {
	n.add("member:"+co+":"+id, event, p)
}
func (n *recordingNotifier) EmitToCompany(id, event string, p any) { n.add("company:"+id, event, p) }
func (n *recordingNotifier) EmitToCall(id, event string, p any)    { n.add("call:"+id, event, p) }
func (n *recordingNotifier) EmitToChat(id, event string, p any)    { n.add("chat:"+id, event, p) }

func (n *recordingNotifier) targets(event string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.Event == event {
			out = append(out, e.Target)
		}
	}
	return out
}

type fakeCallRepo struct {
	byID        map[string]*models.Call
	lookups     int
	statusErr   error
	analysis    map[string]datatypes.JSON
	transcripts map[string]string
}

func newFakeCallRepo(calls ...*models.Call) *fakeCallRepo {
	r := &fakeCallRepo{
		byID:        map[string]*models.Call{},
		analysis:    map[string]datatypes.JSON{},
		transcripts: map[string]string{},
	}
	for _, c := range calls {
		r.byID[c.ID] = c
	}
	return r
}

func (r *fakeCallRepo) GetByID(_ context.Context, id string) (*models.Call, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCallRepo) GetByExternalID(_ context.Context, ext string) (*models.Call, error) {
	r.lookups++
	for _, c := range r.byID {
		if c.ExternalCallID == ext {
			cp := *c
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *fakeCallRepo) UpdateStatus(_ context.Context, id string, status models.CallStatus, _ time.Time) error {
	if r.statusErr != nil {
		return r.statusErr
	}
	c, ok := r.byID[id]
	if !ok {
		return utils.ErrNotFound
	}
	c.Status = status
	return nil
}

func (r *fakeCallRepo) Complete(_ context.Context, id, transcript string, _ time.Time) error {
	c, ok := r.byID[id]
	if !ok {
		return utils.ErrNotFound
	}
	c.Status = models.CallStatusCompleted
	r.transcripts[id] = transcript
	return nil
}

func (r *fakeCallRepo) SaveAnalysis(_ context.Context, id string, a datatypes.JSON) error {
	r.analysis[id] = a
	return nil
}

type fakeChatRepo struct {
	chats     map[string]*models.Chat
	messages  []models.ChatMessage
	insertErr error
}

func (r *fakeChatRepo) GetByID(_ context.Context, id string) (*models.Chat, error) {
	c, ok := r.chats[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return c, nil
}

func (r *fakeChatRepo) InsertMessage(_ context.Context, m *models.ChatMessage) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.messages = append(r.messages, *m)
	return nil
}

func (r *fakeChatRepo) LatestMessages(_ context.Context, chatID string, n int) ([]models.ChatMessage, error) {
	var rows []models.ChatMessage
	for _, m := range r.messages {
		if m.ChatID == chatID {
			rows = append(rows, m)
		}
	}
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows, nil
}

type fakeSuggestionRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Suggestion
	similar   []models.Suggestion
	insertErr error
	markCalls int
}

func newFakeSuggestionRepo() *fakeSuggestionRepo {
	return &fakeSuggestionRepo{rows: map[string]*models.Suggestion{}}
}

func (r *fakeSuggestionRepo) Insert(_ context.Context, s *models.Suggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *fakeSuggestionRepo) GetByID(_ context.Context, id string) (*models.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSuggestionRepo) list(match func(*models.Suggestion) bool) []models.Suggestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Suggestion
	for _, s := range r.rows {
		if match(s) {
			out = append(out, *s)
		}
	}
	return out
}

func (r *fakeSuggestionRepo) ListByCall(_ context.Context, companyID, callID string, _ int) ([]models.Suggestion, error) {
	return r.list(func(s *models.Suggestion) bool {
		return s.CompanyID == companyID && s.CallID != nil && *s.CallID == callID
	}), nil
}

func (r *fakeSuggestionRepo) ListByChat(_ context.Context, companyID, chatID string, _ int) ([]models.Suggestion, error) {
	return r.list(func(s *models.Suggestion) bool {
		return s.CompanyID == companyID && s.ChatID != nil && *s.ChatID == chatID
	}), nil
}

func (r *fakeSuggestionRepo) MarkUsed(_ context.Context, id, operatorID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCalls++
	s, ok := r.rows[id]
	if !ok || s.OperatorID != operatorID || s.Used {
		return false, nil
	}
	s.Used = true
	s.UsedAt = &at
	return true, nil
}

func (r *fakeSuggestionRepo) SimilarUsed(context.Context, string, []float32, int) ([]models.Suggestion, error) {
	return r.similar, nil
}

type fakeGenerator struct {
	mu        sync.Mutex
	result    llm.Result
	requests  []llm.SuggestionRequest
	preferred []string
	balanced  int
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.SuggestionRequest, preferred string) llm.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.preferred = append(g.preferred, preferred)
	return g.result
}

func (g *fakeGenerator) GenerateBalanced(_ context.Context, req llm.SuggestionRequest) llm.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.balanced++
	return g.result
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, e.err }

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []models.SuggestionJob
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job models.SuggestionJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return d.err
}

// memCache is a map-backed cache.Cache that keeps values as-is.
type memCache struct {
	data map[string]*models.Call
	sets int
	dels int
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	v, ok := c.data[key]
	if !ok {
		return false, nil
	}
	*(dst.(*models.Call)) = *v
	return true, nil
}

func (c *memCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	c.sets++
	cp := *(val.(*models.Call))
	c.data[key] = &cp
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.dels++
		delete(c.data, k)
	}
	return nil
}
