package history

import (
	"fmt"
	"time"

	"operlog-client/lib/htmlutil"
	"operlog-client/lib/platforms/operlog/core"

	"github.com/PuerkitoBio/goquery"
)

// Row is one row of the history table as text, the column order is fixed by
// the server's markup: time, event, specialist, end time, comment, operator.
type Row struct {
	Timestamp  string
	Event      string
	Specialist string
	EndTime    string
	Comment    string
	Operator   string
}

const rowCells = 6

// Record is a normalized history row. Specialist and EndTime are nil when the
// server rendered a placeholder instead of a value.
type Record struct {
	Timestamp  int64
	Event      string
	Specialist *string
	EndTime    *int64
	Comment    string
	Operator   string
}

// absentValues lists the cell texts the server renders for a missing value.
var absentValues = map[string]struct{}{
	"-----": {},
	"None":  {},
	"":      {},
}

// IsAbsent reports whether a cleaned cell text is a placeholder.
func IsAbsent(text string) bool {
	_, ok := absentValues[text]
	return ok
}

// ParseTable reads the rows of the history table out of a search result page.
// The first row is the header whatever cells it is built from. A missing table
// or a data row that is not exactly six cells wide is an error, rows are never
// skipped silently.
func ParseTable(doc *goquery.Document) ([]Row, error) {
	table := doc.Find("table.table_oper_log").First()
	if table.Length() == 0 {
		return nil, &core.ParseError{What: "history page", Err: fmt.Errorf("no table.table_oper_log")}
	}

	var rows []Row
	var rowErr error
	table.Find("tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if i == 0 {
			return true
		}
		cells := tr.ChildrenFiltered("td")
		if cells.Length() != rowCells {
			rowErr = &core.ParseError{
				What: fmt.Sprintf("history row %d", i),
				Err:  fmt.Errorf("expected %d cells, got %d", rowCells, cells.Length()),
			}
			return false
		}

		texts := htmlutil.CellTexts(cells)
		rows = append(rows, Row{
			Timestamp:  texts[0],
			Event:      texts[1],
			Specialist: texts[2],
			EndTime:    texts[3],
			Comment:    texts[4],
			Operator:   texts[5],
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return rows, nil
}

// Normalizer converts rows into records using the server's timestamp layout
// and timezone.
type Normalizer struct {
	Layout   string
	Location *time.Location
}

func (n Normalizer) parseTime(field, text string) (int64, error) {
	t, err := time.ParseInLocation(n.Layout, text, n.Location)
	if err != nil {
		return 0, &core.ParseError{What: field, Err: err}
	}
	return t.Unix(), nil
}

func (n Normalizer) Normalize(row Row) (Record, error) {
	ts, err := n.parseTime("timestamp", row.Timestamp)
	if err != nil {
		return Record{}, err
	}

	record := Record{
		Timestamp: ts,
		Event:     row.Event,
		Comment:   row.Comment,
		Operator:  row.Operator,
	}
	if !IsAbsent(row.Specialist) {
		specialist := row.Specialist
		record.Specialist = &specialist
	}
	if !IsAbsent(row.EndTime) {
		end, err := n.parseTime("end time", row.EndTime)
		if err != nil {
			return Record{}, err
		}
		record.EndTime = &end
	}
	return record, nil
}

// Filter keeps the records whose timestamp lies in [start, end], the server's
// day granular search returns rows outside the requested instants.
func Filter(records []Record, start, end int64) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Timestamp < start || r.Timestamp > end {
			continue
		}
		out = append(out, r)
	}
	return out
}
