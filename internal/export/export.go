// Package export renders booking ledgers as Excel workbooks for
// administrative download.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"calbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// BookingLister is the query surface the exporter needs.
type BookingLister interface {
	ListBookings(ctx context.Context, from, to, status string) ([]models.Booking, error)
}

// SheetWriter abstracts workbook construction for tests.
type SheetWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []interface{}) error
	Save(w io.Writer) error
	Close() error
}

var bookingColumns = []string{
	"ID", "User ID", "Date", "Start", "End", "Status", "Cancelled At", "Notes", "Created At",
}

// Exporter turns booking queries into workbook bytes.
type Exporter struct {
	lister BookingLister
	writer func() SheetWriter
	logger zerolog.Logger
}

// NewExporter creates an exporter. writerFactory defaults to excelize.
func NewExporter(lister BookingLister, writerFactory func() SheetWriter, logger *zerolog.Logger) *Exporter {
	if writerFactory == nil {
		writerFactory = NewExcelizeWriter
	}
	return &Exporter{
		lister: lister,
		writer: writerFactory,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// Bookings exports all bookings in [from, to] (optionally filtered by
// status) as a single-sheet workbook.
func (e *Exporter) Bookings(ctx context.Context, from, to, status string) ([]byte, error) {
	bookings, err := e.lister.ListBookings(ctx, from, to, status)
	if err != nil {
		return nil, fmt.Errorf("list bookings for export: %w", err)
	}

	w := e.writer()
	defer w.Close()

	if err := w.AddSheet("Bookings"); err != nil {
		return nil, err
	}
	if err := w.WriteHeader(bookingColumns); err != nil {
		return nil, err
	}
	for _, b := range bookings {
		cancelled := ""
		if b.CancelledAt != nil {
			cancelled = b.CancelledAt.UTC().Format("2006-01-02 15:04:05")
		}
		row := []interface{}{
			b.ID, b.UserID, b.BookingDate, b.StartTime, b.EndTime,
			b.Status, cancelled, b.Notes, b.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := w.WriteRow(row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := w.Save(&buf); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info().Int("bookings", len(bookings)).Str("from", from).Str("to", to).Msg("booking ledger exported")
	return buf.Bytes(), nil
}

// ExcelizeWriter implements SheetWriter on top of excelize.
type ExcelizeWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

// NewExcelizeWriter creates an empty workbook writer.
func NewExcelizeWriter() SheetWriter {
	return &ExcelizeWriter{file: excelize.NewFile()}
}

// AddSheet adds a sheet and makes it current. The first call renames the
// default sheet; names are truncated to Excel's 31-char limit.
func (w *ExcelizeWriter) AddSheet(name string) error {
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		w.file.SetSheetName("Sheet1", name)
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes a bold header row to the current sheet.
func (w *ExcelizeWriter) WriteHeader(columns []string) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, col); err != nil {
			return err
		}
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	w.currentRow++
	return nil
}

// WriteRow appends a data row to the current sheet.
func (w *ExcelizeWriter) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}
	w.currentRow++
	return nil
}

// Save writes the workbook to w.
func (w *ExcelizeWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// Close releases workbook resources.
func (w *ExcelizeWriter) Close() error {
	return w.file.Close()
}
