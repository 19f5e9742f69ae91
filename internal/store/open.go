package store

import "strings"

// Open picks the backing implementation from the DSN: Postgres when one is
// configured, the in-memory store otherwise (local development and tests).
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemory(), nil
	}
	return NewPostgres(dsn)
}
