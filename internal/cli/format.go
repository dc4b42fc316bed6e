package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
	"github.com/lazypower/familiar/internal/patterns"
)

func formatMatch(m identity.Match) string {
	name := m.Name
	if name == "" {
		name = "(unknown)"
	}
	var b strings.Builder
	switch {
	case m.Created:
		fmt.Fprintf(&b, "nice to meet you, %s", name)
	case m.Explicit:
		fmt.Fprintf(&b, "hello, %s", name)
	case m.Ambiguous:
		fmt.Fprintf(&b, "not sure who is speaking; maybe %s", name)
	default:
		fmt.Fprintf(&b, "%s", name)
	}
	fmt.Fprintf(&b, " [%.0f%%]", m.Confidence*100)
	if m.Ambiguous && len(m.Candidates) > 1 {
		scores := make([]string, len(m.Candidates))
		for i, c := range m.Candidates {
			scores[i] = fmt.Sprintf("%s=%.2f", c.ProfileID, c.Score)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(scores, " "))
	}
	return b.String()
}

func formatProfile(p identity.Profile, current bool) string {
	mark := " "
	if current {
		mark = "*"
	}
	seen := "never"
	if !p.LastSeen.IsZero() {
		seen = humanize.Time(p.LastSeen)
	}
	line := fmt.Sprintf("%s %-20s %s  %s interactions, last seen %s",
		mark, p.DisplayName(), p.ID, humanize.Comma(int64(p.InteractionCount)), seen)
	if len(p.Aliases) > 1 {
		line += "  aka " + strings.Join(p.Aliases, ", ")
	}
	return line
}

func formatEntry(e memory.Entry) string {
	line := fmt.Sprintf("%s [%s/%s] %s  (owner %s, %s, %d uses)",
		e.ID, e.Type, e.Importance, e.Content, e.OwnerID, humanize.Time(e.CreatedAt), e.AccessCount)
	if len(e.Tags) > 0 {
		line += "  #" + strings.Join(e.Tags, " #")
	}
	return line
}

func formatResults(res []memory.Result) string {
	if len(res) == 0 {
		return "nothing comes to mind"
	}
	lines := make([]string, len(res))
	for i, r := range res {
		lines[i] = fmt.Sprintf("%d. [%.3f] %s", i+1, r.Relevance, formatEntry(r.Entry))
	}
	return strings.Join(lines, "\n")
}

func formatSummary(sum memory.Summary) string {
	if sum.Total == 0 {
		return "no memories yet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s memories, health %s (%.1f)\n", humanize.Comma(int64(sum.Total)), sum.Health.Status, sum.Health.Score)
	b.WriteString("by type:")
	for _, t := range []memory.Type{memory.Episodic, memory.Semantic, memory.Procedural, memory.Emotional} {
		if n := sum.ByType[t]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", t, n)
		}
	}
	b.WriteString("\nby importance:")
	for imp := memory.Trivial; imp <= memory.Critical; imp++ {
		if n := sum.ByImportance[imp.String()]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", imp, n)
		}
	}
	fmt.Fprintf(&b, "\naverage uses %.2f, important %.0f%%, emotional %.0f%%",
		sum.AverageAccess, sum.ImportantRatio*100, sum.Health.EmotionalRatio*100)
	return b.String()
}

func formatPatterns(ps []patterns.Pattern) string {
	if len(ps) == 0 {
		return "no patterns yet"
	}
	lines := make([]string, len(ps))
	for i, p := range ps {
		lines[i] = fmt.Sprintf("%-16s %3.0f%%  %s", p.Type, p.Confidence*100, p.Description)
	}
	return strings.Join(lines, "\n")
}

// parseWhen accepts RFC 3339 or a relative duration back from now ("36h").
func parseWhen(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor a duration", v)
	}
	return now.Add(-d), nil
}
