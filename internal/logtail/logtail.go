package logtail

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Read returns at most maxLines from the end of the file at path. A maxLines
// of zero or less returns the whole file. A missing file yields no lines.
func Read(path string, maxLines int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if maxLines <= 0 {
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		return lines, nil
	}

	ring := make([]string, maxLines)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Attr is one key=value pair of a log line, in order of appearance.
type Attr struct {
	Key   string
	Value string
}

// Entry is a parsed slog text-handler line.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Attrs   []Attr

	// Raw is the unparsed line. Lines that are not key=value records keep
	// only Raw.
	Raw string
}

// Parse splits a line written by slog.TextHandler. Quoted values are
// unquoted; time, level and msg are lifted into their fields.
func Parse(line string) Entry {
	e := Entry{Raw: line}
	pairs, ok := splitPairs(line)
	if !ok {
		return e
	}
	for _, p := range pairs {
		switch p.Key {
		case "time":
			if ts, err := time.Parse(time.RFC3339Nano, p.Value); err == nil {
				e.Time = ts
				continue
			}
			e.Attrs = append(e.Attrs, p)
		case "level":
			e.Level = strings.ToUpper(p.Value)
		case "msg":
			e.Message = p.Value
		default:
			e.Attrs = append(e.Attrs, p)
		}
	}
	return e
}

// ParseLines parses every line.
func ParseLines(lines []string) []Entry {
	out := make([]Entry, len(lines))
	for i, l := range lines {
		out[i] = Parse(l)
	}
	return out
}

// AtLeast reports whether the entry's level is level or more severe. Entries
// without a level always pass.
func (e Entry) AtLeast(level string) bool {
	if e.Level == "" {
		return true
	}
	return severity(e.Level) >= severity(level)
}

func severity(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return 0
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}

func splitPairs(line string) ([]Attr, bool) {
	var pairs []Attr
	rest := strings.TrimSpace(line)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 || strings.ContainsAny(rest[:eq], " \t\"") {
			return nil, false
		}
		key := rest[:eq]
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, false
			}
			value, _ = strconv.Unquote(quoted)
			rest = rest[len(quoted):]
		} else {
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
			rest = rest[end:]
		}
		pairs = append(pairs, Attr{Key: key, Value: value})
		rest = strings.TrimLeft(rest, " \t")
	}
	return pairs, len(pairs) > 0
}
