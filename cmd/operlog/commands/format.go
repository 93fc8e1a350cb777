package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"operlog-client/lib/platforms/operlog/api"
	"operlog-client/lib/platforms/operlog/history"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	ruleWidth = 80
	// the layout the server uses for time_event
	serverTimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"
	shortTimeLayout  = "2006-01-02 15:04"
	absentCell       = "-"
)

var highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))

func highlightMatch(s string) string {
	return highlightStyle.Render(s)
}

// shortTime converts a server timestamp to "2006-01-02 15:04", anything it
// cannot parse is returned unchanged.
func shortTime(text string) string {
	t, err := time.Parse(serverTimeLayout, text)
	if err != nil {
		return text
	}
	return t.Format(shortTimeLayout)
}

// highlight wraps every span of `text` with `mark`.
func highlight(text string, spans []api.Span, mark func(string) string) string {
	if mark == nil || len(spans) == 0 {
		return text
	}

	var out strings.Builder
	last := 0
	for _, s := range spans {
		start := max(s.Start, last)
		end := min(s.End, len(text))
		if start >= end {
			continue
		}
		out.WriteString(text[last:start])
		out.WriteString(mark(text[start:end]))
		last = end
	}
	out.WriteString(text[last:])
	return out.String()
}

// trimSpans trims surrounding whitespace off `text` and moves the spans
// along with it.
func trimSpans(text string, spans []api.Span) (string, []api.Span) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	lead := len(text) - len(trimmed)
	trimmed = strings.TrimRightFunc(trimmed, unicode.IsSpace)

	var out []api.Span
	for _, s := range spans {
		start := min(max(s.Start-lead, 0), len(trimmed))
		end := min(max(s.End-lead, 0), len(trimmed))
		if start < end {
			out = append(out, api.Span{Start: start, End: end})
		}
	}
	return trimmed, out
}

func formatItem(item api.LogItem, eventSpans, afterSpans []api.Span, mark func(string) string) string {
	after, afterSpans := trimSpans(item.AfterEvent, afterSpans)

	var out strings.Builder
	fmt.Fprintf(
		&out, "[%s - %s] %s --> %s [%d]\n",
		shortTime(item.TimeEvent), item.TimeReport,
		item.Operator, item.UsernameReport, item.ID,
	)
	out.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	out.WriteString(highlight(item.Event, eventSpans, mark) + "\n")
	if after != "" {
		out.WriteString(strings.Repeat("-", ruleWidth) + "\n")
		out.WriteString(highlight(after, afterSpans, mark) + "\n")
	}
	out.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	return out.String()
}

// FormatItem renders a single item the way every command prints it.
func FormatItem(item api.LogItem) string {
	return formatItem(item, nil, nil, nil)
}

// FormatMatch renders a search result with its matches passed through `mark`.
func FormatMatch(match api.SearchMatch, mark func(string) string) string {
	return formatItem(match.Item, match.EventSpans, match.AfterEventSpans, mark)
}

func sortedIds[T any](items map[int]T) []int {
	ids := make([]int, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderItems renders items as a table ordered by id.
func RenderItems(items map[int]api.LogItem) string {
	t := newTable()
	t.AppendHeader(table.Row{"Id", "Time", "Operator", "Event", "After event"})
	for _, id := range sortedIds(items) {
		item := items[id]
		t.AppendRow(table.Row{
			id,
			shortTime(item.TimeEvent),
			item.Operator,
			item.Event,
			strings.TrimSpace(item.AfterEvent),
		})
	}
	return t.Render()
}

func formatUnix(ts int64, loc *time.Location) string {
	return time.Unix(ts, 0).In(loc).Format("2006-01-02 15:04:05")
}

// RenderRecords renders history records as a table, absent values are shown
// as "-".
func RenderRecords(records []history.Record, loc *time.Location) string {
	t := newTable()
	t.AppendHeader(table.Row{"Time", "Event", "Specialist", "End time", "Comment", "Operator"})
	for _, r := range records {
		specialist := absentCell
		if r.Specialist != nil {
			specialist = *r.Specialist
		}
		endTime := absentCell
		if r.EndTime != nil {
			endTime = formatUnix(*r.EndTime, loc)
		}
		t.AppendRow(table.Row{
			formatUnix(r.Timestamp, loc),
			r.Event,
			specialist,
			endTime,
			r.Comment,
			r.Operator,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(records)})
	return t.Render()
}
