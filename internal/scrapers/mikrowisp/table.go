package mikrowisp

import (
	"regexp"
	"sort"
	"wispfetch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

// minHeaderSimilarity is the Jaro-Winkler score a header must reach to be
// taken as an alias when no alias matches exactly.
const minHeaderSimilarity = 0.92

// schema maps fields to column indexes of the rendered table.
type schema map[Field]int

func (s schema) has(f Field) bool {
	_, ok := s[f]
	return ok
}

// headerTexts reads the last header row of the table, which is the one
// holding the column titles when DataTables adds filter rows above it.
func headerTexts(table *goquery.Selection) []string {
	rows := table.Find("thead tr")
	if rows.Length() == 0 {
		rows = table.Find("tr").First()
	}
	var out []string
	rows.Last().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		out = append(out, htmlutil.CleanText(cell))
	})
	return out
}

// resolveSchema assigns every configured field to a header. Exact alias
// matches are claimed first, the remaining fields then take the most similar
// unclaimed header if it is similar enough. Fields in no header are absent.
func resolveSchema(headers []string, columns map[Field][]string) schema {
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = htmlutil.Fold(h)
	}

	fields := make([]Field, 0, len(columns))
	for f := range columns {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	out := schema{}
	claimed := map[int]bool{}

	for _, f := range fields {
		for _, alias := range columns[f] {
			want := htmlutil.Fold(alias)
			for i, h := range folded {
				if !claimed[i] && h == want {
					out[f] = i
					claimed[i] = true
					break
				}
			}
			if out.has(f) {
				break
			}
		}
	}

	for _, f := range fields {
		if out.has(f) {
			continue
		}
		best, bestScore := -1, 0.0
		for _, alias := range columns[f] {
			want := htmlutil.Fold(alias)
			for i, h := range folded {
				if claimed[i] || h == "" {
					continue
				}
				score := matchr.JaroWinkler(h, want, false)
				if score > bestScore {
					best, bestScore = i, score
				}
			}
		}
		if best >= 0 && bestScore >= minHeaderSimilarity {
			out[f] = best
			claimed[best] = true
		}
	}

	return out
}

var dateInText = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4})\b`)

// datePart extracts the DD/MM/YYYY part of a date or date-time cell.
func datePart(s string) string {
	if m := dateInText.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return s
}

// parsedRow is a body row mapped through the schema, before filtering.
type parsedRow struct {
	Record
	hasLink bool
}

func cellText(cells *goquery.Selection, sc schema, f Field) string {
	idx, ok := sc[f]
	if !ok || idx >= cells.Length() {
		return ""
	}
	return htmlutil.CleanText(cells.Eq(idx))
}

// parseRows maps every body row of table into a record. rowArtifact matches
// a per-row print control.
func parseRows(table *goquery.Selection, sc schema, rowArtifact string) []parsedRow {
	var out []parsedRow
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")

		var number string
		hasLink := false
		if idx, ok := sc[FieldRecordNumber]; ok && idx < cells.Length() {
			cell := cells.Eq(idx)
			if link := cell.Find("a").First(); link.Length() > 0 {
				hasLink = true
				number = htmlutil.CleanText(link)
			} else {
				number = htmlutil.CleanText(cell)
			}
		}

		rec := Record{
			RecordNumber:   number,
			ClientID:       cellText(cells, sc, FieldClientID),
			ClientName:     cellText(cells, sc, FieldClientName),
			Identification: cellText(cells, sc, FieldIdentification),
			Type:           cellText(cells, sc, FieldType),
			IssueDate:      datePart(cellText(cells, sc, FieldIssueDate)),
			DueDate:        datePart(cellText(cells, sc, FieldDueDate)),
			PaidDate:       datePart(cellText(cells, sc, FieldPaidDate)),
			Total:          cellText(cells, sc, FieldTotal),
			Balance:        cellText(cells, sc, FieldBalance),
			PaymentMethod:  cellText(cells, sc, FieldPaymentMethod),
			Status:         cellText(cells, sc, FieldStatus),
			RowIndex:       i,
		}
		rec.HasDownloadableArtifact = hasLink || (rowArtifact != "" && row.Find(rowArtifact).Length() > 0)

		out = append(out, parsedRow{Record: rec, hasLink: hasLink})
	})
	return out
}

// recordFilter decides which parsed rows become records.
type recordFilter struct {
	number      *regexp.Regexp
	requireLink bool
	// date is the target in DateLayout, compared for exact equality.
	date string
}

func (f recordFilter) keep(r parsedRow) bool {
	if r.RecordNumber == "" || !f.number.MatchString(r.RecordNumber) {
		return false
	}
	if f.requireLink && !r.hasLink {
		return false
	}
	return r.DateField() == f.date
}

func (f recordFilter) apply(rows []parsedRow) []Record {
	var out []Record
	for _, r := range rows {
		if f.keep(r) {
			out = append(out, r.Record)
		}
	}
	return out
}

// findRow locates the body row of a record in a fresh snapshot: the row at
// RowIndex if it still shows the same record number, otherwise the first row
// that does.
func findRow(table *goquery.Selection, sc schema, rec Record) *goquery.Selection {
	rows := table.Find("tbody tr")
	numberAt := func(row *goquery.Selection) string {
		cells := row.ChildrenFiltered("td")
		idx, ok := sc[FieldRecordNumber]
		if !ok || idx >= cells.Length() {
			return ""
		}
		cell := cells.Eq(idx)
		if link := cell.Find("a").First(); link.Length() > 0 {
			return htmlutil.CleanText(link)
		}
		return htmlutil.CleanText(cell)
	}

	if rec.RowIndex >= 0 && rec.RowIndex < rows.Length() {
		row := rows.Eq(rec.RowIndex)
		if numberAt(row) == rec.RecordNumber {
			return row
		}
	}

	var found *goquery.Selection
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if numberAt(row) == rec.RecordNumber {
			found = row
			return false
		}
		return true
	})
	return found
}
