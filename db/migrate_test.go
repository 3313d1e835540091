package db

import (
	"strings"
	"testing"
)

func TestMigrateDSN(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "postgres scheme",
			in:   "postgres://shiplog:pw@localhost:5432/shiplog?sslmode=disable",
			want: "pgx5://shiplog:pw@localhost:5432/shiplog?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			in:   "postgresql://shiplog@db/shiplog",
			want: "pgx5://shiplog@db/shiplog",
		},
		{
			name: "mixed case scheme",
			in:   "Postgres://localhost/shiplog",
			want: "pgx5://localhost/shiplog",
		},
		{
			name:    "mysql rejected",
			in:      "mysql://localhost/shiplog",
			wantErr: true,
		},
		{
			name:    "unparseable",
			in:      "postgres://bad\x7furl",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrateDSN(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("migrateDSN(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("migrateDSN(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("migrateDSN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("reading embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migration files")
	}

	var ups, downs int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		default:
			t.Errorf("unexpected migration file %q", e.Name())
		}
	}
	if ups == 0 || ups != downs {
		t.Errorf("migration pairs mismatched: %d up, %d down", ups, downs)
	}
}
