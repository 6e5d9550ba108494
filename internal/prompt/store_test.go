package prompt

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

func TestRandomNilStore(t *testing.T) {
	var s *Store
	if got := s.Random(context.Background(), ""); got != DefaultPrompt {
		t.Errorf("expected default prompt from nil store, got %q", got)
	}
}

func TestRandomNilDB(t *testing.T) {
	s := NewStore(nil)
	if got := s.Random(context.Background(), "jp"); got != DefaultPrompt {
		t.Errorf("expected default prompt from nil db, got %q", got)
	}
}

func TestRandomFromCatalog(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping: TEST_POSTGRES_DSN not set")
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := conn.PingContext(ctx); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := NewStore(conn)

	if got := s.Random(ctx, ""); got == "" {
		t.Error("expected a non-empty global prompt")
	}
	if got := s.Random(ctx, "jp"); got == "" {
		t.Error("expected a non-empty regional prompt")
	}
}
