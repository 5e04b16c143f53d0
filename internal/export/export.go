// Package export renders the roster with each participant's latest record
// as CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/MikeSquared-Agency/tally/internal/locale"
	"github.com/MikeSquared-Agency/tally/internal/roster"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Publishers"

// Row is one participant and their latest report, if any.
type Row struct {
	ParticipantID uuid.UUID
	Name          string
	Active        *bool
	Hours         *float64
	Studies       *float64
	Comment       string
}

// Rows joins participants with their latest records, in name order.
func Rows(participants []roster.Participant, records []roster.ActivityRecord) []Row {
	sorted := append([]roster.Participant(nil), participants...)
	roster.SortByName(sorted)
	latest := roster.LatestByParticipant(records)

	rows := make([]Row, 0, len(sorted))
	for _, p := range sorted {
		row := Row{ParticipantID: p.ID, Name: p.Name}
		if rec, ok := latest[p.ID]; ok {
			row.Active = rec.IsActive
			row.Hours = rec.Hours
			row.Studies = rec.Studies
			row.Comment = rec.Comment
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes rows with headers in the given language.
func WriteCSV(w io.Writer, rows []Row, lang string) error {
	loc := locale.Lookup(lang)
	cw := csv.NewWriter(w)

	if err := cw.Write(loc.Headers[:]); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		rec := []string{r.Name, yesNo(loc, r.Active), number(r.Hours), number(r.Studies), r.Comment}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", r.Name)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes rows to a single-sheet workbook. Hours and studies are
// numeric cells.
func WriteXLSX(w io.Writer, rows []Row, lang string) error {
	loc := locale.Lookup(lang)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range loc.Headers {
		header.AddCell().SetString(h)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Name)
		row.AddCell().SetString(yesNo(loc, r.Active))
		numberCell(row.AddCell(), r.Hours)
		numberCell(row.AddCell(), r.Studies)
		row.AddCell().SetString(r.Comment)
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func yesNo(loc locale.Locale, b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return loc.Yes
	default:
		return loc.No
	}
}

func number(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func numberCell(c *xlsx.Cell, f *float64) {
	if f == nil {
		c.SetString("")
		return
	}
	c.SetFloat(*f)
}
