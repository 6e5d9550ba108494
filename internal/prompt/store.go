// Package prompt serves conversation starters for timed dates. Prompts live
// in PostgreSQL tagged by region; picking is random with a built-in fallback
// so a date always gets a prompt even when the database is down.
package prompt

import (
	"context"
	"database/sql"
	"log"
)

// DefaultPrompt is used when the catalog is unavailable or empty.
const DefaultPrompt = "What's your biggest guilty pleasure?"

// Store picks random prompts from the match_prompts table.
type Store struct {
	db *sql.DB
}

// NewStore creates a prompt store. A nil database handle is allowed; Random
// then always returns DefaultPrompt.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Random returns a random prompt for the given region. Region-tagged prompts
// are mixed with the global pool; an empty or "global" region draws from the
// global pool only. Any failure falls back to DefaultPrompt.
func (s *Store) Random(ctx context.Context, region string) string {
	if s == nil || s.db == nil {
		return DefaultPrompt
	}

	var (
		row *sql.Row
	)
	if region != "" && region != "global" {
		const query = `
			SELECT prompt FROM match_prompts
			WHERE region IN ('global', $1)
			ORDER BY random() LIMIT 1`
		row = s.db.QueryRowContext(ctx, query, region)
	} else {
		const query = `
			SELECT prompt FROM match_prompts
			WHERE region = 'global'
			ORDER BY random() LIMIT 1`
		row = s.db.QueryRowContext(ctx, query)
	}

	var text string
	if err := row.Scan(&text); err != nil {
		if err != sql.ErrNoRows {
			log.Printf("prompt: random query failed, using default: %v", err)
		}
		return DefaultPrompt
	}
	if text == "" {
		return DefaultPrompt
	}
	return text
}
