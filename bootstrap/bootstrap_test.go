package bootstrap_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/codelens/quotagate/bootstrap"
	"github.com/codelens/quotagate/config"
)

func TestNew_DefaultConfig(t *testing.T) {
	a, err := bootstrap.New(config.Default())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Shutdown()

	rec := httptest.NewRecorder()
	a.HTTPServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/check?identity=a@x.com", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "usage.db")

	a, err := bootstrap.New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Shutdown()

	rec := httptest.NewRecorder()
	a.HTTPServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", rec.Code)
	}
}

func TestNew_UnreachableStoreFallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = "/nonexistent/dir/usage.db"

	a, err := bootstrap.New(cfg)
	if err != nil {
		t.Fatalf("New should not fail on an unreachable store, got %v", err)
	}
	defer a.Shutdown()

	// The service still answers through the memory fallback.
	rec := httptest.NewRecorder()
	a.HTTPServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/usage/check?identity=a@x.com", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
