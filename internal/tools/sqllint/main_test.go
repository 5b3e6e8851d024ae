package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFlagsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "q.go", "package q\n\nconst Good = `--sql 0b7c3f4e-1d2a-4c5b-9e8f-7a6b5c4d3e2f\nselect 1`\n\nconst Bad = `select 2`\n\nconst Plain = \"not a query\"\n")

	queries, violations, err := lintTarget(dir)
	if err != nil {
		t.Fatalf("lintTarget returned error: %v", err)
	}
	if len(queries) != 1 || queries[0].name != "Good" {
		t.Fatalf("queries = %#v", queries)
	}
	if len(violations) != 1 || violations[0].name != "Bad" {
		t.Fatalf("violations = %#v", violations)
	}
}

func TestLintFlagsDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	marker := "--sql 0b7c3f4e-1d2a-4c5b-9e8f-7a6b5c4d3e2f"
	writeSource(t, dir, "a.go", "package q\n\nconst First = `"+marker+"\nselect 1`\n")
	writeSource(t, dir, "b.go", "package q\n\nconst Second = `"+marker+"\nselect 2`\n")

	queries, violations, err := lintTarget(dir)
	if err != nil {
		t.Fatalf("lintTarget returned error: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("unexpected marker violations %#v", violations)
	}
	dups := duplicateMarkers(queries)
	if len(dups) != 1 || dups[0].name != "Second" {
		t.Fatalf("duplicates = %#v", dups)
	}

	var buf bytes.Buffer
	if !report(&buf, dups) || !strings.Contains(buf.String(), "already used by First") {
		t.Fatalf("report output %q", buf.String())
	}
}

func TestInlineQueriesAreMarked(t *testing.T) {
	queries, violations, err := lintTarget(filepath.Join("..", "..", "sqlinline"))
	if err != nil {
		t.Fatalf("lintTarget returned error: %v", err)
	}
	violations = append(violations, duplicateMarkers(queries)...)
	var buf bytes.Buffer
	if report(&buf, violations) {
		t.Fatalf("inline SQL violations:\n%s", buf.String())
	}
}
