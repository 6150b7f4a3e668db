package main

import (
	"strings"
	"testing"
	"time"

	"pulse/internal/storage"
)

func TestPrintRuns(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	printRuns(&b, nil)
	if b.String() != "no runs recorded\n" {
		t.Fatalf("empty output = %q", b.String())
	}

	b.Reset()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	printRuns(&b, []storage.RunRecord{
		{Pulse: "hb", ID: 2, Started: at, RuntimeMS: 12, Result: `{"exit_code":0}`},
		{Pulse: "hb", ID: 1, Started: at, RuntimeMS: 40, Error: "exit status 1", Warnings: []string{"stderr: boom"}},
	})
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), b.String())
	}
	if !strings.Contains(lines[0], "#2") || !strings.Contains(lines[0], "ok") || !strings.Contains(lines[0], `{"exit_code":0}`) {
		t.Errorf("ok line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "FAIL exit status 1") || !strings.Contains(lines[1], "warnings=[stderr: boom]") {
		t.Errorf("fail line = %q", lines[1])
	}
	if !strings.Contains(lines[1], "2024-05-01 10:00:00") {
		t.Errorf("time not rendered: %q", lines[1])
	}
}
