package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestRead(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	var content strings.Builder
	var expectedAll []string
	for i := 1; i <= 10; i++ {
		line := fmt.Sprintf("Line %d", i)
		content.WriteString(line + "\n")
		expectedAll = append(expectedAll, line)
	}

	if err := os.WriteFile(logPath, []byte(content.String()), 0644); err != nil {
		t.Fatalf("failed to create test log file: %v", err)
	}

	tests := []struct {
		name     string
		maxLines int
		expected []string
	}{
		{
			name:     "read all (0)",
			maxLines: 0,
			expected: expectedAll,
		},
		{
			name:     "read all (negative)",
			maxLines: -1,
			expected: expectedAll,
		},
		{
			name:     "read partial (5)",
			maxLines: 5,
			expected: expectedAll[5:],
		},
		{
			name:     "read exactly all (10)",
			maxLines: 10,
			expected: expectedAll,
		},
		{
			name:     "read more than exists (20)",
			maxLines: 20,
			expected: expectedAll,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(logPath, tt.maxLines)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Read() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse_TextHandlerLine(t *testing.T) {
	line := `time=2026-10-16T09:30:00.123Z level=WARN msg="request failed" method=POST url=http://127.0.0.1:3000/api/keystrokes error="status 500: network failure"`
	e := Parse(line)

	if e.Level != "WARN" || e.Message != "request failed" {
		t.Fatalf("level/msg = %q/%q", e.Level, e.Message)
	}
	if e.Time.IsZero() || e.Time.Minute() != 30 {
		t.Fatalf("time = %v", e.Time)
	}
	want := []Attr{
		{Key: "method", Value: "POST"},
		{Key: "url", Value: "http://127.0.0.1:3000/api/keystrokes"},
		{Key: "error", Value: "status 500: network failure"},
	}
	if !reflect.DeepEqual(e.Attrs, want) {
		t.Fatalf("attrs = %#v", e.Attrs)
	}
	if e.Raw != line {
		t.Fatalf("Raw not preserved")
	}
}

func TestParse_FreeTextKeepsRaw(t *testing.T) {
	for _, line := range []string{"", "panic: boom", `msg="unterminated`, "goroutine 1 [running]:"} {
		e := Parse(line)
		if e.Level != "" || e.Message != "" || len(e.Attrs) != 0 || e.Raw != line {
			t.Fatalf("Parse(%q) = %#v", line, e)
		}
	}
}

func TestEntry_AtLeast(t *testing.T) {
	entries := ParseLines([]string{
		"level=DEBUG msg=a",
		"level=INFO msg=b",
		"level=WARN msg=c",
		"level=ERROR msg=d",
		"stack trace line",
	})
	var kept []string
	for _, e := range entries {
		if e.AtLeast("WARN") {
			kept = append(kept, e.Message)
		}
	}
	if !reflect.DeepEqual(kept, []string{"c", "d", ""}) {
		t.Fatalf("kept = %#v", kept)
	}
}
