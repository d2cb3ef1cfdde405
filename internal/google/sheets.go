package google

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"movingmen/internal/metrics"
	"movingmen/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsService reads and writes the bookings sheet, one booking per row
// in columns A–K with a header in row 1.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	limiter       *rate.Limiter
	logger        *zerolog.Logger

	// appends are placed at or after nextRow so a row cleared at the end of
	// the sheet is not handed to a new booking while the process runs
	appendMu sync.Mutex
	nextRow  int
}

func NewSheetsService(ctx context.Context, spreadsheetID, sheetName string, loc *time.Location, limiter *rate.Limiter, logger *zerolog.Logger, opts ...option.ClientOption) (*SheetsService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	if sheetName == "" {
		sheetName = "Bookings"
	}
	if loc == nil {
		loc = time.Local
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		loc:           loc,
		limiter:       limiter,
		logger:        logger,
		nextRow:       2,
	}, nil
}

func (s *SheetsService) a1(rng string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.sheetName, "'", "''"), rng)
}

func (s *SheetsService) wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// EnsureHeader writes the column header when row 1 is empty.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	started := time.Now()
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A1:K1")).Context(ctx).Do()
	metrics.ObserveGoogleCall("sheets", "get_header", started, err)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	header := make([]interface{}, len(models.Columns))
	for i, c := range models.Columns {
		header[i] = c
	}
	return s.write(ctx, 1, header, "write_header")
}

// GetAllRecords returns every row below the header in sheet order. Cleared
// rows come back as blank bookings so row indexes stay aligned.
func (s *SheetsService) GetAllRecords(ctx context.Context) ([]models.Booking, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A2:K")).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	metrics.ObserveGoogleCall("sheets", "get", started, err)
	if err != nil {
		return nil, fmt.Errorf("unable to read bookings: %w", err)
	}

	records := make([]models.Booking, 0, len(resp.Values))
	for i, row := range resp.Values {
		rowIndex := i + 2
		b, err := models.BookingFromRow(row, rowIndex, s.loc)
		if err != nil {
			s.logger.Warn().Err(err).Int("row", rowIndex).Msg("Skipping unreadable booking row")
			continue
		}
		records = append(records, *b)
	}

	s.appendMu.Lock()
	s.bumpNextRow(len(resp.Values) + 2)
	s.appendMu.Unlock()
	return records, nil
}

// AppendRow writes the booking to the row after the last used one and
// returns its row index. The row is addressed explicitly, so existing rows
// never shift the way an inserting append would move them below a cleared row.
func (s *SheetsService) AppendRow(ctx context.Context, b *models.Booking) (int, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	started := time.Now()
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A2:K")).Context(ctx).Do()
	metrics.ObserveGoogleCall("sheets", "get_used", started, err)
	if err != nil {
		return 0, fmt.Errorf("unable to find next row for booking %s: %w", b.PONumber, err)
	}
	s.bumpNextRow(len(resp.Values) + 2)

	row := s.nextRow
	if err := s.write(ctx, row, b.RowValues(), "append"); err != nil {
		return 0, fmt.Errorf("unable to append booking %s: %w", b.PONumber, err)
	}
	s.nextRow = row + 1
	s.logger.Debug().Str("po", b.PONumber).Int("row", row).Msg("Booking row appended")
	return row, nil
}

func (s *SheetsService) bumpNextRow(row int) {
	if row > s.nextRow {
		s.nextRow = row
	}
}

// UpdateRow overwrites columns A–K of rowIndex.
func (s *SheetsService) UpdateRow(ctx context.Context, rowIndex int, b *models.Booking) error {
	return s.write(ctx, rowIndex, b.RowValues(), "update")
}

// BlankRow clears all 11 columns of rowIndex, leaving the row in place.
func (s *SheetsService) BlankRow(ctx context.Context, rowIndex int) error {
	return s.write(ctx, rowIndex, models.BlankRowValues(), "blank")
}

func (s *SheetsService) write(ctx context.Context, rowIndex int, values []interface{}, method string) error {
	if rowIndex < 1 {
		return fmt.Errorf("invalid row index %d", rowIndex)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	rng := s.a1(fmt.Sprintf("A%d:K%d", rowIndex, rowIndex))
	vr := &sheets.ValueRange{Values: [][]interface{}{values}}

	started := time.Now()
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	metrics.ObserveGoogleCall("sheets", method, started, err)
	if err != nil {
		return fmt.Errorf("unable to write row %d: %w", rowIndex, err)
	}
	return nil
}
