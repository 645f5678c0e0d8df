package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseBenchArgs(t *testing.T) {
	cases := []struct {
		in      []string
		want    [4]int
		wantErr bool
	}{
		{nil, [4]int{8, 4, 1, 1}, false},
		{[]string{"512"}, [4]int{512, 4, 1, 1}, false},
		{[]string{"16", "8", "2", "3"}, [4]int{16, 8, 2, 3}, false},
		{[]string{"0"}, [4]int{}, true},
		{[]string{"x"}, [4]int{}, true},
		{[]string{"1", "2", "3", "4", "5"}, [4]int{}, true},
	}
	for _, c := range cases {
		pp, tg, pl, nr, err := parseBenchArgs(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("%v: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%v: %v", c.in, err)
		}
		if got := [4]int{pp, tg, pl, nr}; got != c.want {
			t.Fatalf("%v -> %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseMeminfo(t *testing.T) {
	in := "MemTotal:       16384000 kB\nMemFree:         1000 kB\nMemAvailable:    8192000 kB\n"
	avail, total, ok := parseMeminfo(strings.NewReader(in))
	if !ok || avail != 8192000*1024 || total != 16384000*1024 {
		t.Fatalf("avail=%d total=%d ok=%v", avail, total, ok)
	}
	if _, _, ok := parseMeminfo(strings.NewReader("MemTotal: 1 kB\n")); ok {
		t.Fatalf("expected missing MemAvailable to fail")
	}
}

func runRoot(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := buildRootCmdWith(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "llamachat.yaml")
	body := "engine: server\nllama_bin: /opt/llama-server\nlog_level: debug\nmax_tokens: 64\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfig, cfgPath)

	a := &app{}
	prefsPath := filepath.Join(dir, "prefs.yaml")
	if _, err := runRoot(t, a, "--log-level", "warn", "--prefs", prefsPath, "source", "get"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if a.cfg.Engine != "server" || a.cfg.LlamaBin != "/opt/llama-server" || a.cfg.MaxTokens != 64 {
		t.Fatalf("file values not applied: %+v", a.cfg)
	}
	if a.cfg.LogLevel != "warn" {
		t.Fatalf("flag should override file: log level %q", a.cfg.LogLevel)
	}
	if a.cfg.PrefsPath != prefsPath || a.cfg.LlamaCtx == 0 {
		t.Fatalf("defaults or flags missing: %+v", a.cfg)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	t.Setenv(envConfig, "")
	_, err := runRoot(t, &app{}, "--engine", "server", "--prefs", filepath.Join(t.TempDir(), "p.yaml"), "source", "get")
	if err == nil || !strings.Contains(err.Error(), "llama_bin") {
		t.Fatalf("expected llama_bin validation error, got %v", err)
	}
}

func TestSourceSetGetAndModels(t *testing.T) {
	t.Setenv(envConfig, "")
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	if err := os.MkdirAll(models, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeModelFile(t, models, "b.gguf")
	writeModelFile(t, models, "a.GGUF")
	writeModelFile(t, models, "notes.txt")
	common := []string{"--prefs", filepath.Join(dir, "prefs.yaml"), "--target-dir", filepath.Join(dir, "target")}

	out, err := runRoot(t, &app{}, append(common, "source", "set", models)...)
	if err != nil {
		t.Fatalf("source set: %v", err)
	}
	if !strings.Contains(out, "(2 model(s))") {
		t.Fatalf("source set output: %q", out)
	}

	out, err = runRoot(t, &app{}, append(common, "source", "get")...)
	if err != nil || strings.TrimSpace(out) != models {
		t.Fatalf("source get = %q, %v", out, err)
	}

	out, err = runRoot(t, &app{}, append(common, "models")...)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "a.GGUF") || !strings.HasPrefix(lines[2], "b.gguf") {
		t.Fatalf("models output:\n%s", out)
	}
	if strings.Contains(out, "notes.txt") {
		t.Fatalf("non-model file listed:\n%s", out)
	}

	out, err = runRoot(t, &app{}, append(common, "models", "--source", t.TempDir())...)
	if err != nil || !strings.Contains(out, "no .gguf models found") {
		t.Fatalf("empty source output %q, %v", out, err)
	}
}

func TestSourceRequiresSubcommand(t *testing.T) {
	t.Setenv(envConfig, "")
	_, err := runRoot(t, &app{}, "--prefs", filepath.Join(t.TempDir(), "p.yaml"), "source")
	if err == nil {
		t.Fatalf("expected error")
	}
}
