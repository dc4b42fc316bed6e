// Package transcript reads conversation logs in JSONL form and replays them
// into an engine: one utterance, action or memory per line.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Record is one line of a transcript. Any combination of Text, Action and
// Remember may be set; a line with none of them is skipped.
type Record struct {
	Text       string    `json:"-"`
	At         time.Time `json:"at"`
	Action     string    `json:"action,omitempty"`
	Remember   string    `json:"remember,omitempty"`
	Type       string    `json:"type,omitempty"`
	Importance string    `json:"importance,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

type line struct {
	Record
	Text json.RawMessage `json:"text"`
}

// ContentItem is one block of a structured text field.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseFile reads a JSONL transcript file.
func ParseFile(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ParseLines parses transcript content from a string.
func ParseLines(content string) ([]Record, int, error) {
	return Parse(strings.NewReader(content))
}

// Parse reads JSONL records from r. Malformed or empty lines are skipped
// and counted.
func Parse(r io.Reader) ([]Record, int, error) {
	var records []Record
	skipped := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		rec, ok := parseLine([]byte(raw))
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan transcript: %w", err)
	}
	return records, skipped, nil
}

func parseLine(raw []byte) (Record, bool) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Record{}, false
	}
	rec := l.Record
	rec.Text = strings.TrimSpace(extractText(l.Text))
	rec.Action = strings.TrimSpace(rec.Action)
	rec.Remember = strings.TrimSpace(rec.Remember)
	if rec.Text == "" && rec.Action == "" && rec.Remember == "" {
		return Record{}, false
	}
	return rec, true
}

// extractText handles the polymorphic text field: a plain string or an
// array of content items, of which only "text" blocks count.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []ContentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
