package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/susu3304/paycollect/internal/roster"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Column A holds participant identifiers starting at row 2. F2:G2 hold the
// participant count and the total amount.
const (
	idColumnRange = "A2:A"
	totalsRange   = "F2:G2"
	firstDataRow  = 2
)

// Client reads the roster from a spreadsheet and writes payment details back.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	sheetName     string
	sheetID       int64
}

type Options struct {
	SpreadsheetID   string
	SheetName       string
	SheetID         int64
	CredentialsFile string
}

// New builds a client authenticated with a service account key file.
func New(ctx context.Context, opts Options) (*Client, error) {
	key, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	jwtConfig, err := google.JWTConfigFromJSON(key, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	svc, err := sheetsapi.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		sheetName:     opts.SheetName,
		sheetID:       opts.SheetID,
	}, nil
}

func (c *Client) a1(r string) string {
	if c.sheetName == "" {
		return r
	}
	return fmt.Sprintf("'%s'!%s", c.sheetName, r)
}

// FetchRoster reads identifiers and totals in one batch request.
func (c *Client) FetchRoster(ctx context.Context) (*roster.Payload, error) {
	resp, err := c.svc.Spreadsheets.Values.BatchGet(c.spreadsheetID).
		Ranges(c.a1(idColumnRange), c.a1(totalsRange)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	if len(resp.ValueRanges) != 2 {
		return nil, fmt.Errorf("%w: expected 2 value ranges, got %d", roster.ErrMalformed, len(resp.ValueRanges))
	}
	return parseRoster(resp.ValueRanges[0].Values, resp.ValueRanges[1].Values)
}

func parseRoster(idRows, totalRows [][]interface{}) (*roster.Payload, error) {
	ids := make([]string, 0, len(idRows))
	for _, row := range idRows {
		if id := roster.NormalizeID(cellString(row, 0)); id != "" {
			ids = append(ids, id)
		}
	}

	if len(totalRows) == 0 {
		return nil, fmt.Errorf("%w: no data in %s", roster.ErrMalformed, totalsRange)
	}
	people, err := parseInt(cellString(totalRows[0], 0))
	if err != nil {
		return nil, fmt.Errorf("%w: participant count: %v", roster.ErrMalformed, err)
	}
	total, err := parseInt(cellString(totalRows[0], 1))
	if err != nil {
		return nil, fmt.Errorf("%w: total amount: %v", roster.ErrMalformed, err)
	}

	return &roster.Payload{
		ParticipantIDs:    ids,
		TotalParticipants: int(people),
		TotalAmount:       total,
	}, nil
}

func cellString(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// parseInt accepts thousands separators ("12,500").
func parseInt(s string) (int64, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	return strconv.ParseInt(s, 10, 64)
}

// RecordPayment writes the order, amount and elapsed time into B:D of the
// participant's row and colours A:D green.
func (c *Client) RecordPayment(ctx context.Context, participantID string, position int, amount int64, elapsed time.Duration) error {
	row, err := c.findRow(ctx, participantID)
	if err != nil {
		return err
	}

	vr := &sheetsapi.ValueRange{
		Values: [][]interface{}{{fmt.Sprintf("# %d", position+1), amount, FormatElapsed(elapsed)}},
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.a1(fmt.Sprintf("B%d:D%d", row, row)), vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update values: %w", err)
	}

	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{paidRowFormat(c.sheetID, row)},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("color row: %w", err)
	}
	return nil
}

// findRow returns the 1-based row number of the participant in column A.
func (c *Client) findRow(ctx context.Context, participantID string) (int, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.a1(idColumnRange)).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get ids: %w", err)
	}
	row, ok := rowOf(resp.Values, participantID)
	if !ok {
		return 0, fmt.Errorf("%s not found in sheet", participantID)
	}
	return row, nil
}

func rowOf(idRows [][]interface{}, participantID string) (int, bool) {
	for i, r := range idRows {
		if roster.NormalizeID(cellString(r, 0)) == participantID {
			return i + firstDataRow, true
		}
	}
	return 0, false
}

func paidRowFormat(sheetID int64, row int) *sheetsapi.Request {
	return &sheetsapi.Request{
		RepeatCell: &sheetsapi.RepeatCellRequest{
			Range: &sheetsapi.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    int64(row - 1),
				EndRowIndex:      int64(row),
				StartColumnIndex: 0,
				EndColumnIndex:   4,
				// Zero values are otherwise omitted from the request.
				ForceSendFields: []string{"SheetId", "StartColumnIndex"},
			},
			Cell: &sheetsapi.CellData{
				UserEnteredFormat: &sheetsapi.CellFormat{
					BackgroundColor: &sheetsapi.Color{Green: 1},
				},
			},
			Fields: "userEnteredFormat.backgroundColor",
		},
	}
}

// FormatElapsed renders a duration as h:mm:ss, days folded into hours.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
