package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/events?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "events", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/events?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "events", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"001_market_events.sql", "002_sync_state.sql"}, names)
}
