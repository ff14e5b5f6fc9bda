package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// snippetLimit bounds the diagnostic body text returned when no table is found.
const snippetLimit = 500

// Matcher is a named structural selector for the data table.
type Matcher struct {
	Name     string
	Selector string
}

// DefaultMatchers are tried in order; the first one that locates a node with
// at least one row wins.
var DefaultMatchers = []Matcher{
	{Name: "gridview-class", Selector: "table.gridview"},
	{Name: "gridview-id", Selector: "table#GridView1"},
	{Name: "gridview-id-contains", Selector: `table[id*="GridView"]`},
	{Name: "grid-class-contains", Selector: `table[class*="grid"]`},
	{Name: "table-class", Selector: ".table"},
	{Name: "any-table", Selector: "table"},
}

// Table is the header row and the data rows of a located table.
type Table struct {
	// Headers are lower-cased, trimmed and whitespace-collapsed, one per
	// header cell. They are the keys used for field mapping.
	Headers []string
	// RawHeaders are the trimmed original header texts.
	RawHeaders []string
	// Rows hold the trimmed cell texts of every non-empty data row.
	Rows [][]string
	// Matcher names the matcher that located the table. Empty when none did.
	Matcher string
	// Snippet is the start of the page text, set only when no table was found.
	Snippet string
}

// Found reports whether a table was located.
func (t *Table) Found() bool {
	return t.Matcher != ""
}

// Locator finds the data table in a page.
type Locator struct {
	matchers []Matcher
}

// NewLocator creates a Locator. With no matchers, DefaultMatchers are used.
func NewLocator(matchers ...Matcher) *Locator {
	if len(matchers) == 0 {
		matchers = DefaultMatchers
	}
	return &Locator{matchers: matchers}
}

// LocateAndExtract parses html with the default matchers.
func LocateAndExtract(html string) (*Table, error) {
	return NewLocator().LocateAndExtract(html)
}

// LocateAndExtract parses html, locates the data table and extracts it. A page
// without any matching table is not an error: the returned Table is empty and
// carries a Snippet of the page text.
func (l *Locator) LocateAndExtract(html string) (*Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	// Line breaks inside cells keep composite markers apart once the cell
	// text is flattened.
	doc.Find("br").ReplaceWithHtml("\n")

	for _, m := range l.matchers {
		var rows *goquery.Selection
		doc.Find(m.Selector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			if r := ownRows(node); r.Length() > 0 {
				rows = r
				return false
			}
			return true
		})
		if rows == nil {
			continue
		}
		table := extract(rows)
		table.Matcher = m.Name
		return table, nil
	}

	return &Table{Snippet: snippet(doc.Find("body").Text())}, nil
}

// ownRows returns the rows of node, skipping rows of tables nested inside it.
func ownRows(node *goquery.Selection) *goquery.Selection {
	rows := node.Find("tr")
	if goquery.NodeName(node) != "table" {
		return rows
	}
	owner := node.Get(0)
	return rows.FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Closest("table").Get(0) == owner
	})
}

func extract(rows *goquery.Selection) *Table {
	table := &Table{}

	rows.Each(func(i int, row *goquery.Selection) {
		cells := cellTexts(row)
		if i == 0 {
			for _, c := range cells {
				table.RawHeaders = append(table.RawHeaders, c)
				table.Headers = append(table.Headers, NormalizeHeader(c))
			}
			return
		}
		if allEmpty(cells) || isPager(row) {
			return
		}
		table.Rows = append(table.Rows, cells)
	})

	return table
}

func cellTexts(row *goquery.Selection) []string {
	cells := row.ChildrenFiltered("th, td")
	texts := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(cell.Text()))
	})
	return texts
}

// isPager reports whether row is a GridView pager: a single cell holding a
// nested table of page links.
func isPager(row *goquery.Selection) bool {
	cells := row.ChildrenFiltered("th, td")
	return cells.Length() == 1 && cells.Find("table").Length() > 0
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// NormalizeHeader lower-cases a header label and collapses its whitespace.
func NormalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > snippetLimit {
		runes = runes[:snippetLimit]
	}
	return string(runes)
}
