package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"carecoop/internal/models"
	"carecoop/internal/scheduling"

	"github.com/xuri/excelize/v2"
)

const (
	ScheduleSheet = "Schedule"
	BookingsSheet = "Bookings"

	// MaxDays bounds the number of date columns in one workbook.
	MaxDays = 62
)

var bookingColumns = []string{
	"ID", "Date", "Start", "End", "Staff", "Patient", "Type", "Status", "Version", "Notes",
}

// Roster renders bookings in the inclusive range [from, to] as a workbook
// with a staff-by-date grid and a flat booking list.
func Roster(from, to string, bookings []models.Booking) (*excelize.File, error) {
	dates, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}

	inRange := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Date >= from && b.Date <= to {
			inRange = append(inRange, b)
		}
	}
	sort.SliceStable(inRange, func(i, j int) bool {
		if inRange[i].Date != inRange[j].Date {
			return inRange[i].Date < inRange[j].Date
		}
		if inRange[i].StartTime != inRange[j].StartTime {
			return inRange[i].StartTime < inRange[j].StartTime
		}
		return inRange[i].ID < inRange[j].ID
	})

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ScheduleSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSchedule(f, from, to, dates, inRange); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeBookingList(f, inRange); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// WriteRoster streams the workbook to w.
func WriteRoster(w io.Writer, from, to string, bookings []models.Booking) error {
	f, err := Roster(from, to, bookings)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// SaveRoster writes the workbook into dir and returns its path.
func SaveRoster(dir, from, to string, bookings []models.Booking) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	f, err := Roster(from, to, bookings)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

// FileName is the conventional workbook name for a range.
func FileName(from, to string) string {
	return fmt.Sprintf("roster_%s_to_%s.xlsx", from, to)
}

func dateRange(from, to string) ([]string, error) {
	start, err := scheduling.ParseDate(from)
	if err != nil {
		return nil, fieldErr(err, "from")
	}
	end, err := scheduling.ParseDate(to)
	if err != nil {
		return nil, fieldErr(err, "to")
	}
	if end.Before(start) {
		return nil, &scheduling.ValidationError{Field: "to", Value: to, Reason: "must not be before from"}
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(dates) == MaxDays {
			return nil, &scheduling.ValidationError{Field: "to", Value: to, Reason: "range exceeds " + strconv.Itoa(MaxDays) + " days"}
		}
		dates = append(dates, scheduling.FormatDate(d))
	}
	return dates, nil
}

func fieldErr(err error, field string) error {
	if vErr, ok := err.(*scheduling.ValidationError); ok {
		cp := *vErr
		cp.Field = field
		return &cp
	}
	return err
}

func writeSchedule(f *excelize.File, from, to string, dates []string, bookings []models.Booking) error {
	sheet := ScheduleSheet

	_ = f.SetCellValue(sheet, "A1", fmt.Sprintf("Roster %s to %s", from, to))
	lastCol, _ := excelize.ColumnNumberToName(len(dates) + 1)
	if len(dates) > 0 {
		_ = f.MergeCell(sheet, "A1", lastCol+"1")
	}
	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("title style: %w", err)
	}
	_ = f.SetCellStyle(sheet, "A1", "A1", titleStyle)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	staffStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("staff style: %w", err)
	}
	busyStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FCE4D6"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("busy style: %w", err)
	}

	_ = f.SetCellValue(sheet, "A2", "Staff")
	_ = f.SetCellStyle(sheet, "A2", "A2", headerStyle)

	dateCol := make(map[string]int, len(dates))
	for i, d := range dates {
		col := i + 2
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(sheet, cell, d)
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
		dateCol[d] = col
	}

	staffRow := make(map[string]int)
	var staff []string
	for _, b := range bookings {
		if _, ok := staffRow[b.StaffID]; !ok {
			staffRow[b.StaffID] = 0
			staff = append(staff, b.StaffID)
		}
	}
	sort.Strings(staff)
	for i, s := range staff {
		row := i + 3
		staffRow[s] = row
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheet, cell, s)
		_ = f.SetCellStyle(sheet, cell, cell, staffStyle)
	}

	cells := make(map[string][]string)
	for _, b := range bookings {
		cell, _ := excelize.CoordinatesToCellName(dateCol[b.Date], staffRow[b.StaffID])
		cells[cell] = append(cells[cell], cellLine(b))
	}
	for cell, lines := range cells {
		_ = f.SetCellValue(sheet, cell, strings.Join(lines, "\n"))
		_ = f.SetCellStyle(sheet, cell, cell, busyStyle)
	}

	_ = f.SetColWidth(sheet, "A", "A", 20)
	if len(dates) > 0 {
		_ = f.SetColWidth(sheet, "B", lastCol, 24)
	}
	return nil
}

// cellLine is one booking inside a grid cell. Terminal bookings carry their
// status so they are not mistaken for occupied time.
func cellLine(b models.Booking) string {
	end := b.EndTime
	if end == "" {
		if iv, err := scheduling.BookingInterval(b); err == nil {
			end = scheduling.FormatTimeOfDay(iv.End)
		}
	}
	line := b.StartTime + "-" + end
	if b.PatientID != "" {
		line += " " + b.PatientID
	}
	if b.Type != "" {
		line += " (" + string(b.Type) + ")"
	}
	if !b.IsActive() {
		line += " [" + string(b.EffectiveStatus()) + "]"
	}
	return line
}

func writeBookingList(f *excelize.File, bookings []models.Booking) error {
	sheet := BookingsSheet
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	header := make([]interface{}, len(bookingColumns))
	for i, c := range bookingColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, b := range bookings {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			b.ID, b.Date, b.StartTime, b.EndTime, b.StaffID, b.PatientID,
			string(b.Type), string(b.EffectiveStatus()), b.Version, b.Notes,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write booking %s: %w", b.ID, err)
		}
	}

	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}
