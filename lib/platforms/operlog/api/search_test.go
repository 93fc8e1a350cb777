package api

import (
	"context"
	"testing"

	"operlog-client/lib/platforms/operlog/core"
	"operlog-client/lib/platforms/operlog/operlogtest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMatchItem(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		item    LogItem
		ok      bool
		event   []Span
		after   []Span
	}{
		{
			name:    "event only",
			pattern: "pump",
			item:    LogItem{Event: "Pump restarted", AfterEvent: "ok"},
			ok:      true,
			event:   []Span{{0, 4}},
		},
		{
			name:    "after event only",
			pattern: "normal",
			item:    LogItem{Event: "valve closed", AfterEvent: "pressure NORMAL"},
			ok:      true,
			after:   []Span{{9, 15}},
		},
		{
			name:    "several matches",
			pattern: "a",
			item:    LogItem{Event: "ab", AfterEvent: "ca"},
			ok:      true,
			event:   []Span{{0, 1}},
			after:   []Span{{1, 2}},
		},
		{
			name:    "match across the field boundary",
			pattern: "edpre",
			item:    LogItem{Event: "closed", AfterEvent: "pressure"},
			ok:      true,
			event:   []Span{{4, 6}},
			after:   []Span{{0, 3}},
		},
		{
			name:    "no match",
			pattern: "boiler",
			item:    LogItem{Event: "pump", AfterEvent: "valve"},
		},
		{
			name:    "zero width matches count but have no spans",
			pattern: "x*",
			item:    LogItem{Event: "pump"},
			ok:      true,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			re, err := CompilePattern(test.pattern)
			require.NoError(t, err)

			match, ok := MatchItem(re, test.item)
			require.Equal(t, test.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, test.item, match.Item)
			if diff := cmp.Diff(test.event, match.EventSpans); diff != "" {
				t.Fatal("event spans (-want +got):\n", diff)
			}
			if diff := cmp.Diff(test.after, match.AfterEventSpans); diff != "" {
				t.Fatal("after event spans (-want +got):\n", diff)
			}
		})
	}
}

func TestCompilePatternRejectsBadInput(t *testing.T) {
	_, err := CompilePattern("")
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = CompilePattern("(unclosed")
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestSearch(t *testing.T) {
	client, server := setup(t)
	ctx := context.Background()

	server.PutItem(operlogtest.Item{ID: 1, Event: "Pump restarted", AfterEvent: "pump ok"})
	server.PutItem(operlogtest.Item{ID: 2, Event: "valve closed"})
	server.PutItem(operlogtest.Item{ID: 3, Event: "check", AfterEvent: "PUMP pressure"})

	matches, err := client.Search(ctx, "pump")
	require.NoError(t, err)

	// one entry per item, however many times it matches
	require.Len(t, matches, 2)
	require.Contains(t, matches, 1)
	require.Contains(t, matches, 3)

	require.Equal(t, []Span{{0, 4}}, matches[1].EventSpans)
	require.Equal(t, []Span{{0, 4}}, matches[1].AfterEventSpans)
	require.Empty(t, matches[3].EventSpans)
	require.Equal(t, []Span{{0, 4}}, matches[3].AfterEventSpans)

	matches, err = client.Search(ctx, "boiler")
	require.NoError(t, err)
	require.Empty(t, matches)

	_, err = client.Search(ctx, "")
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}
