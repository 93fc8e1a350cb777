package api

import (
	"context"
	"fmt"
	"regexp"

	"operlog-client/lib/platforms/operlog/core"
)

// Span is a half open byte range [Start, End) of a match inside a field.
type Span struct {
	Start int
	End   int
}

type SearchMatch struct {
	Item            LogItem
	EventSpans      []Span
	AfterEventSpans []Span
}

// CompilePattern builds the case insensitive expression used by Search.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", core.ErrInvalidArgument)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidArgument, err.Error())
	}
	return re, nil
}

// MatchItem reports whether `event + after_event` matches and where. A match
// crossing from event into after_event is split into one span on each side.
func MatchItem(re *regexp.Regexp, item LogItem) (SearchMatch, bool) {
	text := item.Event + item.AfterEvent
	if !re.MatchString(text) {
		return SearchMatch{}, false
	}

	match := SearchMatch{Item: item}
	boundary := len(item.Event)
	for _, loc := range re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start == end {
			continue
		}
		if start < boundary {
			match.EventSpans = append(match.EventSpans, Span{Start: start, End: min(end, boundary)})
		}
		if end > boundary {
			match.AfterEventSpans = append(match.AfterEventSpans, Span{
				Start: max(start, boundary) - boundary,
				End:   end - boundary,
			})
		}
	}
	return match, true
}

// Search lists every item and keeps the ones whose text matches `pattern`
// case insensitively. There is exactly one entry per matching item.
func (c Client) Search(ctx context.Context, pattern string) (map[int]SearchMatch, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	items, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	out := map[int]SearchMatch{}
	for id, item := range items {
		match, ok := MatchItem(re, item)
		if !ok {
			continue
		}
		out[id] = match
	}
	return out, nil
}
