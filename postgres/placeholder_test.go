package postgres

import (
	"strings"
	"testing"
)

func TestNormalizePlaceholders_NativeDollarIsIdentity(t *testing.T) {
	t.Parallel()

	cases := []string{
		"SELECT * FROM t WHERE a = $1",
		"SELECT * FROM t WHERE a = $1 AND b = $2",
		"INSERT INTO t (a) VALUES ($1), ($2)",
	}
	for _, sql := range cases {
		sql := sql
		t.Run(sql, func(t *testing.T) {
			t.Parallel()
			got, err := normalizePlaceholders(sql)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != sql {
				t.Fatalf("expected identity, got %q", got)
			}
		})
	}
}

func TestNormalizePlaceholders_QuestionMarksCountedLeftToRight(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single",
			in:   "SELECT * FROM t WHERE a = ?",
			want: "SELECT * FROM t WHERE a = $1",
		},
		{
			name: "two params",
			in:   "SELECT * FROM t WHERE a = ? AND b = ?",
			want: "SELECT * FROM t WHERE a = $1 AND b = $2",
		},
		{
			name: "scenario 5 from spec",
			in:   "SELECT * FROM t WHERE a = ? AND b = 'Hello?' AND c = ?",
			want: "SELECT * FROM t WHERE a = $1 AND b = 'Hello?' AND c = $2",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizePlaceholders(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizePlaceholders_LiteralQuestionMarksUntouched(t *testing.T) {
	t.Parallel()

	sql := `SELECT * FROM t WHERE note = 'what? really?' AND a = ?`
	got, err := normalizePlaceholders(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `SELECT * FROM t WHERE note = 'what? really?' AND a = $1`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizePlaceholders_DoubledQuoteEscapes(t *testing.T) {
	t.Parallel()

	sql := `SELECT * FROM t WHERE note = 'it''s a ? test' AND a = ?`
	got, err := normalizePlaceholders(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `SELECT * FROM t WHERE note = 'it''s a ? test' AND a = $1`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizePlaceholders_DoubleQuotedIdentifierUntouched(t *testing.T) {
	t.Parallel()

	sql := `SELECT "weird?col" FROM t WHERE a = ?`
	got, err := normalizePlaceholders(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `SELECT "weird?col" FROM t WHERE a = $1`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizePlaceholders_MixedDialectRejected(t *testing.T) {
	t.Parallel()

	_, err := normalizePlaceholders("SELECT * FROM t WHERE a = $1 AND b = ?")
	if !IsBadPlaceholders(err) {
		t.Fatalf("expected BadPlaceholders, got %v", err)
	}
}

func TestNormalizePlaceholders_StrayQuestionMarkRejected(t *testing.T) {
	t.Parallel()

	cases := []string{
		"?SELECT",
		"SELECT a?b FROM t",
		"SELECT * FROM t?",
	}
	for _, sql := range cases {
		sql := sql
		t.Run(sql, func(t *testing.T) {
			t.Parallel()
			_, err := normalizePlaceholders(sql)
			if !IsBadPlaceholders(err) {
				t.Fatalf("expected BadPlaceholders for %q, got %v", sql, err)
			}
		})
	}
}

func TestNormalizePlaceholders_CountMatchesQuestionMarkOccurrences(t *testing.T) {
	t.Parallel()

	sql := "INSERT INTO t (a, b, c, d) VALUES (?, ?, ?, ?)"
	got, err := normalizePlaceholders(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count := strings.Count(got, "$")
	if count != 4 {
		t.Fatalf("expected 4 placeholders, got %d in %q", count, got)
	}
}
