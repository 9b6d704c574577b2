package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"carecoop/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrRowNotFound is returned when a booking has no row in the roster.
var ErrRowNotFound = errors.New("booking row not found")

// Roster columns, A through K.
var rosterHeaders = []interface{}{
	"ID", "Date", "Start", "End", "Staff", "Patient", "Type", "Notes", "Version", "Status", "Updated At",
}

const (
	lastColumn   = "K"
	statusColumn = "J"
	stampLayout  = "2006-01-02 15:04:05"
)

// RosterSheet mirrors bookings into one sheet of a shared spreadsheet, one
// row per booking keyed by the id in column A.
type RosterSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *zerolog.Logger

	rowCache map[string]int
	cacheMu  sync.RWMutex
	now      func() time.Time
}

// NewRosterSheet authenticates with a service-account key file.
func NewRosterSheet(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger *zerolog.Logger) (*RosterSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newRosterSheet(srv, spreadsheetID, sheetName, logger), nil
}

func newRosterSheet(srv *sheets.Service, spreadsheetID, sheetName string, logger *zerolog.Logger) *RosterSheet {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if sheetName == "" {
		sheetName = "Roster"
	}
	l := logger.With().Str("component", "roster_sheet").Logger()
	return &RosterSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        &l,
		rowCache:      make(map[string]int),
		now:           time.Now,
	}
}

// Start warms the row cache and refreshes it every interval until ctx is done.
func (s *RosterSheet) Start(ctx context.Context, interval time.Duration) {
	refresh := func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.WarmUpCache(rctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("roster cache refresh failed")
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// TestConnection reads the header cell.
func (s *RosterSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache rebuilds the row index from column A.
func (s *RosterSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		// Row 1 is the header.
		if i == 0 || len(row) == 0 {
			continue
		}
		if id := cellString(row[0]); id != "" {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// WriteHeader writes the column titles into row 1.
func (s *RosterSheet) WriteHeader(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.a1("A1:"+lastColumn+"1"), &sheets.ValueRange{
		Values: [][]interface{}{rosterHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// AppendBooking adds a row for booking and caches its position.
func (s *RosterSheet) AppendBooking(ctx context.Context, booking *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.a1("A:"+lastColumn), &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if row, ok := firstRow(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(booking.ID, row)
		}
	}
	return nil
}

// UpsertBooking rewrites the booking's row, appending one when it has none.
func (s *RosterSheet) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if errors.Is(err, ErrRowNotFound) {
		return s.AppendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rowRange("A", lastColumn, rowIdx), &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// UpdateBookingStatus rewrites the status and updated-at cells of a row.
func (s *RosterSheet) UpdateBookingStatus(ctx context.Context, bookingID string, status models.Status) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rowRange(statusColumn, lastColumn, rowIdx), &sheets.ValueRange{
		Values: [][]interface{}{{string(status), s.now().Format(stampLayout)}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// DeleteBookingRow clears the booking's row. A booking without a row is
// already deleted.
func (s *RosterSheet) DeleteBookingRow(ctx context.Context, bookingID string) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if errors.Is(err, ErrRowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.rowRange("A", lastColumn, rowIdx), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCachedRow(bookingID)
	}
	return err
}

// FindBookingRow returns the 1-based row of bookingID, consulting the cache
// before scanning column A.
func (s *RosterSheet) FindBookingRow(ctx context.Context, bookingID string) (int, error) {
	if bookingID == "" {
		return 0, fmt.Errorf("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if cellString(row[0]) == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, ErrRowNotFound
}

// ReplaceAll rewrites the whole sheet with bookings, header first.
func (s *RosterSheet) ReplaceAll(ctx context.Context, bookings []models.Booking) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.a1("A:"+lastColumn), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}

	values := make([][]interface{}, 0, len(bookings)+1)
	values = append(values, rosterHeaders)
	cache := make(map[string]int, len(bookings))
	for i := range bookings {
		values = append(values, bookingRowValues(&bookings[i]))
		cache[bookings[i].ID] = i + 2
	}

	rng := s.a1(fmt.Sprintf("A1:%s%d", lastColumn, len(values)))
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write roster: %w", err)
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// ClearCache drops the row index.
func (s *RosterSheet) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
}

func (s *RosterSheet) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *RosterSheet) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *RosterSheet) deleteCachedRow(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

var plainSheetName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// a1 prefixes a cell range with the sheet name, quoting it when needed.
func (s *RosterSheet) a1(cells string) string {
	name := s.sheetName
	if !plainSheetName.MatchString(name) {
		name = "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name + "!" + cells
}

func (s *RosterSheet) rowRange(from, to string, row int) string {
	return s.a1(fmt.Sprintf("%s%d:%s%d", from, row, to, row))
}

var rangeRow = regexp.MustCompile(`![A-Z]+(\d+)`)

// firstRow extracts the starting row from an A1 range such as "Roster!A10:K10".
func firstRow(a1 string) (int, bool) {
	m := rangeRow.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func cellString(v interface{}) string {
	switch c := v.(type) {
	case string:
		return strings.TrimSpace(c)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return fmt.Sprint(c)
	}
}

func bookingRowValues(b *models.Booking) []interface{} {
	updated := ""
	if !b.UpdatedAt.IsZero() {
		updated = b.UpdatedAt.Format(stampLayout)
	}
	return []interface{}{
		b.ID,
		b.Date,
		b.StartTime,
		b.EndTime,
		b.StaffID,
		b.PatientID,
		string(b.Type),
		b.Notes,
		b.Version,
		string(b.EffectiveStatus()),
		updated,
	}
}
