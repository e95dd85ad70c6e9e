// Package xlsx renders a validated chronology as a spreadsheet workbook.
package xlsx

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
)

const (
	ChronologySheet = "Chronology"
	DocumentsSheet  = "Documents"
)

var (
	chronologyHeader = []any{"Date", "Facility", "Provider", "Visit Type", "Kind", "Summary", "Sources", "Dates of Service"}
	documentsHeader  = []any{"Document", "Name", "Processable", "Quality", "Confidence", "Pages", "Note"}
)

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteChronology(set *domain.ChronologySet, docs []domain.RecognizedDocument) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ChronologySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(DocumentsSheet); err != nil {
		return nil, fmt.Errorf("create documents sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	wrapStyle, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return nil, fmt.Errorf("create wrap style: %w", err)
	}

	rows := make([][]any, 0, len(set.Entries))
	for _, e := range set.Entries {
		dates := make([]string, 0, len(e.ServiceDates))
		for _, d := range e.ServiceDates {
			dates = append(dates, format.HeadingDate(d))
		}
		rows = append(rows, []any{
			format.HeadingDate(e.Date),
			e.Facility,
			format.ProviderSegment(e.Provider),
			e.VisitType,
			string(e.Kind),
			e.Summary,
			strings.Join(e.Sources(), ", "),
			strings.Join(dates, ", "),
		})
	}
	if err := writeTable(f, ChronologySheet, chronologyHeader, rows, headerStyle); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(ChronologySheet, "F", "F", 90); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if err := f.SetCellStyle(ChronologySheet, "F2", fmt.Sprintf("F%d", len(rows)+1), wrapStyle); err != nil {
			return nil, err
		}
	}

	docRows := make([][]any, 0, len(docs))
	for _, d := range docs {
		docRows = append(docRows, []any{d.ID, d.Name, d.Processable, string(d.Quality), d.Confidence, d.PageCount, d.Note})
	}
	if err := writeTable(f, DocumentsSheet, documentsHeader, docRows, headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}
