package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"llamachat/internal/acquire"
	"llamachat/internal/session"
	"llamachat/pkg/types"
)

// scriptEngine replays fixed fragments and counts unloads.
type scriptEngine struct {
	frags []string

	mu      sync.Mutex
	loaded  string
	unloads int
}

func (e *scriptEngine) Load(ctx context.Context, path string) error {
	e.mu.Lock()
	e.loaded = path
	e.mu.Unlock()
	return nil
}

func (e *scriptEngine) Generate(ctx context.Context, prompt string, onFragment func(string) error) error {
	for _, f := range e.frags {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return nil
}

func (e *scriptEngine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	return "| model | pp | tg |", nil
}

func (e *scriptEngine) Unload() error {
	e.mu.Lock()
	e.unloads++
	e.mu.Unlock()
	return nil
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestSessionFlowOverHTTP(t *testing.T) {
	srcDir, targetDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "tiny.gguf")
	if err := os.WriteFile(src, []byte("GGUF-weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	cat := &mockCatalog{source: srcDir, models: []acquire.Descriptor{{
		Name:      "tiny.gguf",
		Source:    acquire.ParseLocator(src),
		LocalPath: filepath.Join(targetDir, "tiny.gguf"),
	}}}
	eng := &scriptEngine{frags: []string{"H", "ello"}}
	ctrl, err := session.New(session.Config{Engine: eng})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	srv := httptest.NewServer(NewMux(ctrl, cat))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	evResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer evResp.Body.Close()
	if ct := evResp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("events content-type=%q", ct)
	}
	events := make(chan types.Event, 64)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(evResp.Body)
		for sc.Scan() {
			var e types.Event
			if json.Unmarshal(sc.Bytes(), &e) == nil {
				events <- e
			}
		}
	}()

	resp := postJSON(t, srv.URL+"/load", `{"model":"tiny.gguf"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load status=%d", resp.StatusCode)
	}
	if b, err := os.ReadFile(filepath.Join(targetDir, "tiny.gguf")); err != nil || string(b) != "GGUF-weights" {
		t.Fatalf("model not copied: %q %v", b, err)
	}

	resp = postJSON(t, srv.URL+"/submit", `{"text":"hi"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status=%d", resp.StatusCode)
	}

	var frags []string
	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("event stream ended early")
			}
			switch e.Name {
			case session.EventFragment:
				frags = append(frags, e.Fields["text"].(string))
			case session.EventClosed:
				if e.Fields["outcome"] != "completed" {
					t.Fatalf("outcome=%v", e.Fields["outcome"])
				}
				break loop
			}
		case <-deadline:
			t.Fatalf("timed out waiting for turn_closed; fragments so far %v", frags)
		}
	}
	if len(frags) != 2 || frags[0] != "H" || frags[1] != "ello" {
		t.Fatalf("fragments=%v", frags)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := ctrl.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	tr, err := http.Get(srv.URL + "/transcript")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	var body types.TranscriptResponse
	if err := json.NewDecoder(tr.Body).Decode(&body); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	tr.Body.Close()
	var dialogue []types.Turn
	for _, turn := range body.Turns {
		if turn.Origin != "system" {
			dialogue = append(dialogue, turn)
		}
	}
	if len(dialogue) != 2 ||
		dialogue[0].Origin != "user" || dialogue[0].Text != "hi" ||
		dialogue[1].Origin != "assistant" || dialogue[1].Text != "Hello" || dialogue[1].Open {
		t.Fatalf("dialogue=%+v", dialogue)
	}

	resp = postJSON(t, srv.URL+"/teardown", "")
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if st.State != "unloaded" {
		t.Fatalf("state after teardown=%q", st.State)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.unloads != 1 {
		t.Fatalf("unloads=%d", eng.unloads)
	}
}
