package db

import "testing"

func TestRebind(t *testing.T) {
	query := "UPDATE charging_sessions SET end_timestamp = ? WHERE id = ?"

	if got := SQLite.Rebind(query); got != query {
		t.Fatalf("sqlite should keep placeholders, got %q", got)
	}
	want := "UPDATE charging_sessions SET end_timestamp = $1 WHERE id = $2"
	if got := Postgres.Rebind(query); got != want {
		t.Fatalf("unexpected postgres query %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{in: "postgres", want: Postgres},
		{in: "PGX", want: Postgres},
		{in: "sqlite3", want: SQLite},
		{in: " sqlite ", want: SQLite},
		{in: "mysql", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parse %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}
