package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"therapybridge/internal/config"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckExecutable(t *testing.T) {
	if result := CheckExecutable("exe", ""); !result.Passed {
		t.Fatalf("expected running binary to pass, got %s", result.Detail)
	}
	script := filepath.Join(t.TempDir(), "worker")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckExecutable("exe", script); result.Passed {
		t.Fatal("expected non-executable file to fail")
	}
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatal(err)
	}
	if result := CheckExecutable("exe", script); !result.Passed {
		t.Fatalf("expected executable to pass, got %s", result.Detail)
	}
}

func TestCheckStore(t *testing.T) {
	if result := CheckStore(context.Background(), "sqlite", pinger{}); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	result := CheckStore(context.Background(), "postgres", pinger{err: errors.New("connection refused")})
	if result.Passed || !strings.Contains(result.Detail, "connection refused") {
		t.Fatalf("expected failure detail, got %+v", result)
	}
}

func TestCheckLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	cfg := config.LLM{APIKey: "good-key", BaseURL: srv.URL, Model: "fast"}
	if result := CheckLLM(context.Background(), "LLM", cfg, "fast"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	cfg.APIKey = "bad-key"
	result := CheckLLM(context.Background(), "LLM", cfg, "fast")
	if result.Passed || !strings.Contains(result.Detail, "authentication failed") {
		t.Fatalf("expected auth failure, got %+v", result)
	}

	cfg.APIKey = ""
	if result := CheckLLM(context.Background(), "LLM", cfg, "fast"); result.Passed || result.Detail != "API key missing" {
		t.Fatalf("expected missing key failure, got %+v", result)
	}
}

func TestRunAll(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "missing")

	results := RunAll(context.Background(), &cfg, pinger{}, false)
	if len(results) != 4 {
		t.Fatalf("expected 4 results without LLM checks, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Log directory" {
		t.Fatalf("expected only the log directory to fail, got %+v", failed)
	}
}
