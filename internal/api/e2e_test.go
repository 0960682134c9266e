package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/chat"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/dispatch"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/enrichment"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/gateway"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/metrics"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/prompt"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/ratelimit"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

// memStore is an in-memory stand-in for *store.Store covering every
// consumer interface of the chat pipeline.
type memStore struct {
	mu        sync.Mutex
	convs     map[string]*store.Conversation
	messages  map[string][]store.Message
	limits    map[string]store.RateLimit
	refs      []store.ReferenceCall
	hooks     []store.Webhook
	leadConvs map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		convs:     make(map[string]*store.Conversation),
		messages:  make(map[string][]store.Message),
		limits:    make(map[string]store.RateLimit),
		leadConvs: make(map[string]bool),
	}
}

func (m *memStore) GetOrCreateConversation(_ context.Context, id, sid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; ok {
		return id, nil
	}
	id = uuid.NewString()
	m.convs[id] = &store.Conversation{ID: id, SessionID: sid}
	return id, nil
}

func (m *memStore) AppendMessage(_ context.Context, id, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append(m.messages[id], store.Message{Role: role, Content: content, CreatedAt: time.Now()})
	return nil
}

func (m *memStore) GetHistory(_ context.Context, id string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message(nil), m.messages[id]...), nil
}

func (m *memStore) MarkQualified(_ context.Context, id string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, _ := json.Marshal(data)
	m.convs[id].IsQualified = true
	m.convs[id].QualificationData = blob
	return nil
}

func (m *memStore) conversation(id string) store.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.convs[id]
}

func (m *memStore) GetRateLimit(_ context.Context, sid string) (*store.RateLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rl, ok := m.limits[sid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rl, nil
}

func (m *memStore) CreateRateLimit(_ context.Context, sid string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[sid] = store.RateLimit{SessionID: sid, RequestCount: 1, WindowStart: now}
	return nil
}

func (m *memStore) IncrementRateLimit(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rl := m.limits[sid]
	rl.RequestCount++
	m.limits[sid] = rl
	return nil
}

func (m *memStore) ResetRateLimit(_ context.Context, sid string, now time.Time) error {
	return m.CreateRateLimit(context.Background(), sid, now)
}

func (m *memStore) SampleIntroductions(_ context.Context, limit int) ([]store.ReferenceCall, error) {
	return m.SampleReferences(context.Background(), limit)
}

func (m *memStore) FindBySectors(_ context.Context, sectors []string, limit int) ([]store.ReferenceCall, error) {
	var out []store.ReferenceCall
	for _, c := range m.refs {
		for _, s := range sectors {
			if strings.Contains(strings.ToLower(c.Sector), s) && len(out) < limit {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) SampleReferences(_ context.Context, limit int) ([]store.ReferenceCall, error) {
	if len(m.refs) > limit {
		return m.refs[:limit], nil
	}
	return m.refs, nil
}

func (m *memStore) ActiveWebhooks(_ context.Context, event string) ([]store.Webhook, error) {
	var out []store.Webhook
	for _, h := range m.hooks {
		if h.TriggerEvent == event && h.Active {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) InsertLead(_ context.Context, _ store.Lead, convID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leadConvs[convID] {
		return uuid.Nil, store.ErrLeadExists
	}
	m.leadConvs[convID] = true
	return uuid.New(), nil
}

// fakeLLM replies with a scripted answer per call, split into small deltas.
type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
	systems []string
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	reply := f.replies[f.calls%len(f.replies)]
	f.calls++
	if len(req.Messages) > 0 {
		f.systems = append(f.systems, req.Messages[0].Content)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	for _, word := range strings.SplitAfter(reply, " ") {
		chunk, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": word}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		w.(http.Flusher).Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (f *fakeLLM) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.systems...)
}

type hookReceiver struct {
	mu  sync.Mutex
	got []dispatch.Trigger
}

func (h *hookReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var t dispatch.Trigger
	if err := json.NewDecoder(r.Body).Decode(&t); err == nil {
		h.mu.Lock()
		h.got = append(h.got, t)
		h.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (h *hookReceiver) events() []dispatch.Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dispatch.Trigger(nil), h.got...)
}

type pipeline struct {
	srv   *httptest.Server
	mem   *memStore
	llm   *fakeLLM
	hooks *hookReceiver
	disp  *dispatch.Dispatcher
}

func newPipeline(t *testing.T, replies ...string) *pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p := &pipeline{mem: newMemStore(), llm: &fakeLLM{replies: replies}, hooks: &hookReceiver{}}
	llmSrv := httptest.NewServer(p.llm)
	t.Cleanup(llmSrv.Close)
	hookSrv := httptest.NewServer(p.hooks)
	t.Cleanup(hookSrv.Close)

	p.mem.refs = []store.ReferenceCall{
		{Company: "Banque Nord", Sector: "Finance", Introduction: "Intro", Exploration: "Explo"},
		{Company: "Voltaïa", Sector: "Énergie", Introduction: "Intro énergie"},
	}
	p.mem.hooks = []store.Webhook{
		{Name: "n8n", URL: hookSrv.URL, TriggerEvent: dispatch.EventConversationQualified, Active: true},
		{Name: "bp", URL: hookSrv.URL, TriggerEvent: dispatch.EventBlueprintGenerated, Active: true},
		{Name: "off", URL: hookSrv.URL, TriggerEvent: dispatch.EventConversationQualified, Active: false},
	}

	p.disp = dispatch.New(p.mem, nil, dispatch.Options{Timeout: 2 * time.Second, Workers: 2, QueueSize: 16}, logger, m)
	p.disp.Start(context.Background())
	t.Cleanup(p.disp.Close)

	svc := chat.NewService(
		ratelimit.New(p.mem, 10*time.Minute, 20, logger, m),
		p.mem,
		p.mem,
		enrichment.NewEngine(prompt.Default(), enrichment.DefaultKeywords(), p.mem, logger, m),
		gateway.NewClient("test-key", "google/gemini-2.5-flash", llmSrv.URL),
		p.disp,
		chat.DefaultPolicy(8),
		logger,
	)
	api := NewServer(Options{AllowedOrigins: []string{"*"}, MaxMessageLength: 5000, Gatherer: reg}, svc, nil, m, logger)
	p.srv = httptest.NewServer(api.Handler())
	t.Cleanup(p.srv.Close)
	return p
}

func (p *pipeline) send(t *testing.T, convID, msg string) (string, string) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"conversationId": convID, "sessionId": "sess-e2e", "message": msg})
	resp, err := http.Post(p.srv.URL+"/api/chat", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() != "" {
			lines = append(lines, sc.Text())
		}
	}
	return resp.Header.Get("X-Conversation-Id"), strings.Join(lines, "\n")
}

func (p *pipeline) waitHistory(t *testing.T, convID string, n int) []store.Message {
	t.Helper()
	var history []store.Message
	require.Eventually(t, func() bool {
		history, _ = p.mem.GetHistory(context.Background(), convID)
		return len(history) == n
	}, 2*time.Second, 10*time.Millisecond)
	return history
}

func TestPipeline_ColdThenWarmTurn(t *testing.T) {
	p := newPipeline(t, "Bonjour ! Que faites-vous au quotidien ?", "Combien de factures par mois ?")

	convID, stream := p.send(t, "", "Bonjour")
	require.NotEmpty(t, convID)
	assert.NotContains(t, stream, "reference_calls")
	assert.True(t, strings.HasSuffix(stream, "data: [DONE]"))

	again, stream := p.send(t, convID, "Je gère la facturation")
	assert.Equal(t, convID, again)
	assert.True(t, strings.HasPrefix(stream, `data: {"reference_calls":[{"entreprise":"Banque Nord","secteur":"Finance","phase":"exploration"}]}`))

	history := p.waitHistory(t, convID, 4)
	assert.Equal(t, []string{store.RoleUser, store.RoleAssistant, store.RoleUser, store.RoleAssistant},
		[]string{history[0].Role, history[1].Role, history[2].Role, history[3].Role})
	assert.Equal(t, "Combien de factures par mois ?", history[3].Content)

	prompts := p.llm.prompts()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "Banque Nord")
	assert.Contains(t, prompts[1], "Banque Nord")

	assert.False(t, p.mem.conversation(convID).IsQualified)
	assert.Empty(t, p.hooks.events())
}

func TestPipeline_EmailQualifiesAndFiresWebhook(t *testing.T) {
	p := newPipeline(t, "Merci ! Je vous écris à camille@acme.fr avec le plan prêt ✅")

	convID, _ := p.send(t, "", "Mon email est camille@acme.fr")
	p.waitHistory(t, convID, 2)

	require.Eventually(t, func() bool { return len(p.hooks.events()) == 2 }, 2*time.Second, 10*time.Millisecond)

	conv := p.mem.conversation(convID)
	assert.True(t, conv.IsQualified)
	assert.JSONEq(t, `"email"`, string(mustField(t, conv.QualificationData, "reason")))

	events := map[string]dispatch.Trigger{}
	for _, e := range p.hooks.events() {
		events[e.Event] = e
	}
	q := events[dispatch.EventConversationQualified]
	assert.Equal(t, convID, q.ConversationID)
	assert.Equal(t, "sess-e2e", q.SessionID)
	assert.Equal(t, 2, q.MessagesCount)
	assert.Contains(t, q.LastMessage, "camille@acme.fr")
	assert.Contains(t, events, dispatch.EventBlueprintGenerated)
}

func TestPipeline_RateLimitAfterTwentyTurns(t *testing.T) {
	p := newPipeline(t, "ok")

	for i := 0; i < 20; i++ {
		p.send(t, "", "Bonjour")
	}

	body, _ := json.Marshal(map[string]any{"sessionId": "sess-e2e", "message": "encore"})
	resp, err := http.Post(p.srv.URL+"/api/chat", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "600", resp.Header.Get("Retry-After"))
	assert.Len(t, p.llm.prompts(), 20)
}

func mustField(t *testing.T, blob []byte, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(blob, &m))
	return m[key]
}
