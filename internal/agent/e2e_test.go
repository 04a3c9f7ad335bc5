package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrison/webpilot/internal/agent"
	"github.com/harrison/webpilot/internal/browser"
	"github.com/harrison/webpilot/internal/browser/browsertest"
	"github.com/harrison/webpilot/internal/executor"
	"github.com/harrison/webpilot/internal/instructions"
	"github.com/harrison/webpilot/internal/learning"
	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/llm"
	"github.com/harrison/webpilot/internal/metrics"
	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messagesServer replays one canned Messages API reply per request and keeps
// the decoded requests.
type messagesServer struct {
	mu       sync.Mutex
	replies  []string
	requests []map[string]interface{}
}

func (s *messagesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	reply := s.replies[i]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(reply))
}

func (s *messagesServer) lastMessages(t *testing.T) []interface{} {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	msgs, ok := s.requests[len(s.requests)-1]["messages"].([]interface{})
	require.True(t, ok)
	return msgs
}

const (
	navigateReply = `{"type":"message","role":"assistant","stop_reason":"tool_use","content":[
		{"type":"tool_use","id":"toolu_1","name":"navigate","input":{"url":"https://irs.example.gov/forms"}}]}`
	fillAndClickReply = `{"type":"message","role":"assistant","stop_reason":"tool_use","content":[
		{"type":"text","text":"Searching for the form."},
		{"type":"tool_use","id":"toolu_2","name":"fill","input":{"selector":"#search","value":"941"}},
		{"type":"tool_use","id":"toolu_3","name":"click","input":{"selector":"#missing-button"}}]}`
	doneReply = `{"type":"message","role":"assistant","stop_reason":"end_turn","content":[
		{"type":"text","text":"Searched irs.gov for form 941."}]}`
)

func TestEndToEndCommand(t *testing.T) {
	srv := &messagesServer{replies: []string{navigateReply, fillAndClickReply, doneReply}}
	api := httptest.NewServer(srv)
	defer api.Close()

	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:  "sk-test",
		Model:   "claude-test",
		BaseURL: api.URL,
	})
	require.NoError(t, err)
	svc := llm.NewService(client)

	templates := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(templates, "tasks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "tasks", "default.txt"),
		[]byte("Do this in the browser: {{command}}"), 0644))

	store, err := ledger.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	collector := metrics.NewCollector()
	gen := instructions.NewGenerator(instructions.GeneratorConfig{
		Catalog:    instructions.DefaultCatalog(),
		Repository: instructions.NewRepository(templates),
		Model:      svc,
		Analyzer:   learning.NewAnalyzer(svc, 0, nil),
		Runs:       store,
	})

	page := browsertest.NewPage("tab-1", "about:blank", "#search")
	session := browser.NewSession(browsertest.NewConnector(browsertest.NewDriver(page)), nil)
	defer session.Close()
	exec, err := executor.NewExecutor(session, executor.Options{
		DownloadDir: t.TempDir(),
		DefaultWait: 100 * time.Millisecond,
		Recorder:    collector,
	})
	require.NoError(t, err)

	runner := agent.NewRunner(agent.RunnerConfig{
		Generator: gen,
		Ledger:    ledger.New(store),
		Loop:      agent.NewLoop(svc.Client(), exec, 10, agent.WithToolMetrics(collector)),
		Metrics:   collector,
	})

	res, err := runner.Execute(context.Background(), "find form 941")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Searched irs.gov for form 941.", res.Output)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Equal(t, instructions.SourceTemplate, res.Source)

	calls := page.Calls()
	assert.Contains(t, calls, "navigate https://irs.example.gov/forms")
	assert.Contains(t, calls, "fill #search=941")

	// One tool_result turn per call; the failed click is flagged as an error.
	msgs := srv.lastMessages(t)
	last := msgs[len(msgs)-1].(map[string]interface{})
	block := last["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "tool_result", block["type"])
	assert.Equal(t, "toolu_3", block["tool_use_id"])
	assert.Equal(t, true, block["is_error"])

	run, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, run.Outcome)
	assert.Equal(t, "Do this in the browser: find form 941", run.Instructions)
	require.Len(t, run.Actions, 3)
	assert.Equal(t, "navigate", run.Actions[0].Action)
	assert.True(t, run.Actions[1].Success)
	assert.False(t, run.Actions[2].Success)
	assert.NotEmpty(t, run.Actions[2].Error)

	analysis, err := learning.NewAnalyzer(nil, 0, nil).AnalyzeLedger(context.Background(), store, "", 10)
	require.NoError(t, err)
	assert.False(t, analysis.HasSignal(), "successful runs carry no failure signal")
}
