package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/studiowebux/asynchttp/internal/client"
	"github.com/studiowebux/asynchttp/internal/config"
	"github.com/studiowebux/asynchttp/internal/history"
	"github.com/studiowebux/asynchttp/internal/types"
)

const requestFile = `### echo
POST {{baseUrl}}/echo
Content-Type: application/json
X-Api-Key: {{apiKey}}

{"name": "{{name}}"}

### missing
GET {{baseUrl}}/missing
`

type echoReply struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	APIKey string `json:"apiKey"`
	Agent  string `json:"agent"`
	Accept string `json:"accept"`
	Body   string `json:"body"`
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(echoReply{
			Method: r.Method,
			Path:   r.URL.Path,
			APIKey: r.Header.Get("X-Api-Key"),
			Agent:  r.UserAgent(),
			Accept: r.Header.Get("Accept"),
			Body:   string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	env    Env
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(t *testing.T, withHistory bool) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Headers = types.Headers{{Key: "Accept", Value: "application/json"}}

	c := client.New(cfg.ClientOptions())
	t.Cleanup(func() { c.Close() })

	te := &testEnv{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	te.env = Env{
		Config: cfg,
		Client: c,
		Stdin:  strings.NewReader(""),
		Stdout: te.stdout,
		Stderr: te.stderr,
	}
	if withHistory {
		h, err := history.Open("sqlite3", ":memory:")
		if err != nil {
			t.Fatalf("history.Open() error = %v", err)
		}
		t.Cleanup(func() { h.Close() })
		te.env.History = h
	}
	return te
}

func writeRequestFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "api.http")
	if err := os.WriteFile(p, []byte(requestFile), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_ExecutesAndJournals(t *testing.T) {
	srv := newEchoServer(t)
	te := newTestEnv(t, true)
	file := writeRequestFile(t)

	result, err := Run(context.Background(), te.env, RunOptions{
		FilePath:     file,
		OutputFormat: "body",
		ExtraVars:    []string{"baseUrl=" + srv.URL, "apiKey=secret", "name=ada"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v, stderr: %s", err, te.stderr.String())
	}
	if result.Status != 200 {
		t.Errorf("status = %d", result.Status)
	}

	var got echoReply
	if err := json.Unmarshal(te.stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not the echo body: %v\n%s", err, te.stdout.String())
	}
	want := echoReply{
		Method: "POST",
		Path:   "/echo",
		APIKey: "secret",
		Agent:  types.DefaultUserAgent,
		Accept: "application/json",
		Body:   `{"name": "ada"}`,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("server saw (-want +got):\n%s", diff)
	}

	entries, err := te.env.History.LoadForFile(context.Background(), file)
	if err != nil {
		t.Fatalf("LoadForFile() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(entries))
	}
	if entries[0].RequestName != "echo" || entries[0].ResponseStatus != 200 {
		t.Errorf("entry = %+v", entries[0])
	}
	if entries[0].URL != srv.URL+"/echo" {
		t.Errorf("entry URL = %q", entries[0].URL)
	}
}

func TestRun_FilterAndQuery(t *testing.T) {
	srv := newEchoServer(t)
	te := newTestEnv(t, false)

	_, err := Run(context.Background(), te.env, RunOptions{
		FilePath:     writeRequestFile(t),
		OutputFormat: "body",
		ExtraVars:    []string{"baseUrl=" + srv.URL, "apiKey=k", "name=n"},
		Filter:       "method",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(te.stdout.String()); got != `"POST"` {
		t.Errorf("filtered output = %q", got)
	}
}

func TestRun_ErrorStatus(t *testing.T) {
	srv := newEchoServer(t)
	te := newTestEnv(t, false)

	result, err := Run(context.Background(), te.env, RunOptions{
		FilePath:     writeRequestFile(t),
		Name:         "missing",
		OutputFormat: "json",
		ExtraVars:    []string{"baseUrl=" + srv.URL},
	})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("Run() error = %v, want ErrRequestFailed", err)
	}
	if result.Status != 404 {
		t.Errorf("status = %d", result.Status)
	}
	var rendered types.RequestResult
	if err := json.Unmarshal(te.stdout.Bytes(), &rendered); err != nil || rendered.Status != 404 {
		t.Errorf("json output = %q, %v", te.stdout.String(), err)
	}
}

func TestRun_ConnectionFailure(t *testing.T) {
	srv := newEchoServer(t)
	addr := srv.URL
	srv.Close()

	te := newTestEnv(t, true)
	result, err := Run(context.Background(), te.env, RunOptions{
		FilePath:     writeRequestFile(t),
		Name:         "missing",
		OutputFormat: "text",
		ExtraVars:    []string{"baseUrl=" + addr},
	})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("Run() error = %v, want ErrRequestFailed", err)
	}
	if result.Error == "" {
		t.Error("result carries no error")
	}
	if !strings.Contains(te.stdout.String(), "Error: ") {
		t.Errorf("text output lacks error line: %q", te.stdout.String())
	}
	if n, _ := te.env.History.Count(context.Background()); n != 1 {
		t.Errorf("failed exchange not journaled, count = %d", n)
	}
}

func TestRun_MissingVariablesNonInteractive(t *testing.T) {
	te := newTestEnv(t, false)
	_, err := Run(context.Background(), te.env, RunOptions{FilePath: writeRequestFile(t)})
	if err == nil || !strings.Contains(err.Error(), "baseUrl") {
		t.Fatalf("Run() error = %v, want missing baseUrl", err)
	}
}

func TestRun_PromptsForMissingVariables(t *testing.T) {
	srv := newEchoServer(t)
	te := newTestEnv(t, false)
	te.env.Interactive = true
	te.env.Stdin = strings.NewReader("prompted-key\n")
	te.env.Config.Variables = map[string]string{"name": "from-config"}

	_, err := Run(context.Background(), te.env, RunOptions{
		FilePath:     writeRequestFile(t),
		Name:         "echo",
		OutputFormat: "body",
		ExtraVars:    []string{"baseUrl=" + srv.URL},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(te.stderr.String(), "Enter value for 'apiKey'") {
		t.Errorf("no prompt on stderr: %q", te.stderr.String())
	}
	var got echoReply
	json.Unmarshal(te.stdout.Bytes(), &got)
	if got.APIKey != "prompted-key" || got.Body != `{"name": "from-config"}` {
		t.Errorf("server saw %+v", got)
	}
}

func TestRun_PipedBodyAndSave(t *testing.T) {
	srv := newEchoServer(t)
	te := newTestEnv(t, false)
	te.env.StdinPiped = true
	te.env.Stdin = strings.NewReader("piped")
	dest := filepath.Join(t.TempDir(), "out.txt")

	_, err := Run(context.Background(), te.env, RunOptions{
		FilePath:     writeRequestFile(t),
		OutputFormat: "body",
		SavePath:     dest,
		ExtraVars:    []string{"baseUrl=" + srv.URL, "apiKey=k"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if te.stdout.Len() != 0 {
		t.Errorf("stdout written while saving: %q", te.stdout.String())
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	var got echoReply
	if err := json.Unmarshal(data, &got); err != nil || got.Body != "piped" {
		t.Errorf("saved %q, %v", data, err)
	}
}

func TestMergeHeaders(t *testing.T) {
	defaults := types.Headers{{Key: "Accept", Value: "*/*"}, {Key: "X-Env", Value: "dev"}}
	request := types.Headers{{Key: "accept", Value: "text/plain"}, {Key: "X-Id", Value: "1"}}

	got := mergeHeaders(defaults, request)
	want := types.Headers{
		{Key: "X-Env", Value: "dev"},
		{Key: "accept", Value: "text/plain"},
		{Key: "X-Id", Value: "1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mergeHeaders() mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingVariables(t *testing.T) {
	def := types.RequestDefinition{
		URL:     "{{host}}/{{path}}?t={{env.TOKEN}}",
		Headers: types.Headers{{Key: "X-{{ignored}}", Value: "{{user}}"}},
		Body:    "{{path}} {{env.MISSING}}",
	}
	got := missingVariables(def,
		map[string]string{"host": "h"},
		map[string]string{"path": "p"},
		map[string]string{"TOKEN": "t"},
	)
	want := []string{"env.MISSING", "user"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("missingVariables() mismatch (-want +got):\n%s", diff)
	}
}

func TestProgressModel(t *testing.T) {
	c := &counters{}
	m := newProgressModel("GET http://x/", c)
	c.sent.Store(120)
	c.received.Store(2048)

	view := m.View()
	for _, part := range []string{"GET http://x/", "sent 120B", "received 2.00KB"} {
		if !strings.Contains(view, part) {
			t.Errorf("View() missing %q: %q", part, view)
		}
	}

	next, cmd := m.Update(progressDoneMsg{})
	if cmd == nil {
		t.Fatal("done message did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("cmd() is not a quit message")
	}
	if v := next.View(); v != "" {
		t.Errorf("View() after done = %q", v)
	}
}

func TestProgressRunsHeadless(t *testing.T) {
	var out bytes.Buffer
	p := StartProgress("GET http://x/", &out)
	p.Update(types.Sent, 10)
	p.Update(types.Received, 20)
	p.Stop()

	if got := p.counters.received.Load(); got != 20 {
		t.Errorf("received = %d", got)
	}
}

func TestSelectorModel(t *testing.T) {
	file := &types.RequestFile{
		Path: "api.http",
		Requests: []types.RequestDefinition{
			{Name: "first", Method: "GET", URL: "http://a/"},
			{Name: "second", Method: "POST", URL: "http://b/"},
		},
	}

	t.Run("enter picks highlighted", func(t *testing.T) {
		var m tea.Model = newSelectorModel(file)
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if cmd == nil {
			t.Fatal("enter did not quit")
		}
		if got := m.(selectorModel).choice; got != 1 {
			t.Errorf("choice = %d, want 1", got)
		}
	})

	t.Run("q cancels", func(t *testing.T) {
		var m tea.Model = newSelectorModel(file)
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
		if got := m.(selectorModel).choice; got != -1 {
			t.Errorf("choice = %d, want -1", got)
		}
	})

	t.Run("titles", func(t *testing.T) {
		it := item{def: file.Requests[1]}
		if got := it.Title(); got != "second (POST http://b/)" {
			t.Errorf("Title() = %q", got)
		}
		unnamed := item{def: types.RequestDefinition{Name: "GET http://a/", Method: "GET", URL: "http://a/"}}
		if got := unnamed.Title(); got != "GET http://a/" {
			t.Errorf("Title() = %q", got)
		}
	})
}

func TestRunDirect_FlagHeadersOverride(t *testing.T) {
	srv := newEchoServer(t)
	te := newTestEnv(t, true)

	def := types.RequestDefinition{Method: "PUT", URL: srv.URL + "/items/{{id}}"}
	_, err := RunDirect(context.Background(), te.env, def, RunOptions{
		OutputFormat: "body",
		BodyOverride: "payload",
		ExtraVars:    []string{"id=7"},
		Headers:      []string{"Accept: text/plain", "X-Api-Key: k"},
	})
	if err != nil {
		t.Fatalf("RunDirect() error = %v, stderr: %s", err, te.stderr.String())
	}

	var got echoReply
	if err := json.Unmarshal(te.stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not the echo body: %v", err)
	}
	want := echoReply{Method: "PUT", Path: "/items/7", APIKey: "k", Agent: types.DefaultUserAgent, Accept: "text/plain", Body: "payload"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("server saw (-want +got):\n%s", diff)
	}

	entries, err := te.env.History.List(context.Background(), 0)
	if err != nil || len(entries) != 1 || entries[0].RequestFile != "" {
		t.Errorf("history = %+v, %v", entries, err)
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := ParseHeaders([]string{"Accept: a", "X-Empty:", "X-Colon: a:b"})
	if err != nil {
		t.Fatal(err)
	}
	want := types.Headers{{Key: "Accept", Value: "a"}, {Key: "X-Empty", Value: ""}, {Key: "X-Colon", Value: "a:b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseHeaders() mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"NoColon", ": value"} {
		if _, err := ParseHeaders([]string{bad}); err == nil {
			t.Errorf("ParseHeaders(%q) accepted", bad)
		}
	}
}
