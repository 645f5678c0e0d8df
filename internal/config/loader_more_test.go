package config

import (
	"strings"
	"testing"
)

func TestLoad_Failures(t *testing.T) {
	d := t.TempDir()
	cases := []struct {
		name, file, body, wantErr string
	}{
		{"yaml", "bad.yaml", "addr: :8080\n: broken\n", ""},
		{"json", "bad.json", `{ "addr": ":8080", "models_dir": }`, ""},
		{"toml", "bad.toml", "addr=:8080\nmodels_dir\n", ""},
		{"extension", "cfg.ini", "addr=:8080\n", "unsupported config extension"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempFile(t, d, tc.file, tc.body))
			if err == nil {
				t.Fatalf("expected error for %s", tc.file)
			}
			if tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want %q", err, tc.wantErr)
			}
		})
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(d + "/missing.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
