package postgres

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u@db/x", Host: "ignored"},
			want: "postgres://u@db/x",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "localhost", Database: "polyarb", User: "postgres", Password: "pw"},
			want: "postgres://postgres:pw@localhost:5432/polyarb?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", SSLMode: "require"},
			want: "postgres://u:@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_paper_ledger.sql" {
		t.Fatalf("names = %v", names)
	}

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"paper_trades", "paper_positions", "opportunities", "trader_state"} {
		if !strings.Contains(string(data), table) {
			t.Errorf("migration missing table %s", table)
		}
	}
}
