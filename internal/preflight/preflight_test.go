package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"actlog/internal/config"
)

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

func TestCheckStoragePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "activity.db")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		backend string
		path    string
		pass    bool
	}{
		{"missing sqlite file", config.BackendSQLite, filepath.Join(dir, "new.db"), true},
		{"existing sqlite file", config.BackendSQLite, file, true},
		{"sqlite path is dir", config.BackendSQLite, dir, false},
		{"pebble dir", config.BackendPebble, dir, true},
		{"pebble path is file", config.BackendPebble, file, false},
		{"missing parent", config.BackendSQLite, filepath.Join(dir, "a", "b", "c.db"), false},
		{"empty path", config.BackendSQLite, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckStoragePath("Storage", tt.backend, tt.path)
			if result.Passed != tt.pass {
				t.Fatalf("expected pass=%v, got %+v", tt.pass, result)
			}
		})
	}
}

func TestCheckDaemon_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/status" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckDaemon(context.Background(), srv.URL, "good-token")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckDaemon_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckDaemon(context.Background(), srv.URL, "bad-token")
	if result.Passed || !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("expected auth failure, got %+v", result)
	}
}

func TestCheckDaemon_NotRunning(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	result := CheckDaemon(context.Background(), addr, "")
	if result.Passed || !strings.Contains(result.Detail, "not running") {
		t.Fatalf("expected not running, got %+v", result)
	}
}

func TestCheckDaemon_MissingBind(t *testing.T) {
	if result := CheckDaemon(context.Background(), " ", ""); result.Passed {
		t.Fatal("expected failure for empty bind")
	}
}

func TestRunAll(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()

	results := RunAll(context.Background(), &cfg, false)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if RunAll(context.Background(), nil, true) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
