// Package sheets implements table.Backend on the Google Sheets v4 API.
//
// Row insertion and promotion are issued as one spreadsheets.batchUpdate
// carrying the structural request and the cell overwrite together, which the
// API applies atomically: either both land or neither does.
package sheets

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
)

const (
	dimensionRows   = "ROWS"
	inputRaw        = "RAW"
	renderFormatted = "FORMATTED_VALUE"
)

// Client is a Google Sheets backend bound to one spreadsheet.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	timeout       time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
}

var _ table.Backend = (*Client)(nil)

// New authenticates with a service-account key and returns a client.
func New(ctx context.Context, cfg config.SheetsConfig, log *zap.Logger) (*Client, error) {
	data := []byte(cfg.CredentialsJSON)
	if len(data) == 0 {
		var err error
		data, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "read service account key")
		}
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "parse service account key")
	}

	svc, err := sheetsapi.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "create sheets service")
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.RequestTimeout, log), nil
}

// NewWithService wraps an existing service, e.g. one pointed at a test server.
func NewWithService(svc *sheetsapi.Service, spreadsheetID string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		timeout:       timeout,
		logger:        logger.OrNop(log).With(zap.String("component", "sheets"), zap.String("spreadsheet", spreadsheetID)),
		sheetIDs:      make(map[string]int64),
	}
}

// ReadAll implements table.Backend.
func (c *Client) ReadAll(ctx context.Context, tab string) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quote(tab)).
		ValueRenderOption(renderFormatted).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(table.OpRead, tab, err)
	}
	return toStrings(resp.Values), nil
}

// EnsureTab implements table.Backend.
func (c *Client) EnsureTab(ctx context.Context, tab string, header []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.sheetID(ctx, tab); err != nil {
		if !errors.IsType(err, errors.ErrorTypeNotFound) {
			return err
		}
		if err := c.addSheet(ctx, tab); err != nil {
			return err
		}
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quote(tab)+"!1:1").Context(ctx).Do()
	if err != nil {
		return classify(table.OpEnsure, tab, err)
	}
	existing := toStrings(resp.Values)
	if len(existing) == 0 || len(existing[0]) == 0 {
		c.logger.Info("writing header", zap.String("tab", tab))
		return c.update(ctx, table.OpEnsure, tab, table.HeaderRow, 0, header)
	}
	return table.CheckHeader(tab, existing[0], header)
}

// InsertRow implements table.Backend.
func (c *Client) InsertRow(ctx context.Context, tab string, row int, values []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sid, err := c.sheetID(ctx, tab)
	if err != nil {
		return err
	}
	if row <= table.HeaderRow {
		return errors.Newf(errors.ErrorTypeStructural, "insert row %d would displace the header", row)
	}
	return c.batch(ctx, table.OpInsert, tab,
		&sheetsapi.Request{InsertDimension: &sheetsapi.InsertDimensionRequest{
			Range: &sheetsapi.DimensionRange{
				SheetId:    sid,
				Dimension:  dimensionRows,
				StartIndex: int64(row - 1),
				EndIndex:   int64(row),
			},
			InheritFromBefore: false,
		}},
		updateCellsRequest(sid, row, values),
	)
}

// PromoteRow implements table.Backend.
func (c *Client) PromoteRow(ctx context.Context, tab string, from, to int, values []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sid, err := c.sheetID(ctx, tab)
	if err != nil {
		return err
	}
	if to <= table.HeaderRow || to > from {
		return errors.Newf(errors.ErrorTypeStructural, "cannot move row %d to %d", from, to)
	}

	reqs := make([]*sheetsapi.Request, 0, 2)
	if from != to {
		reqs = append(reqs, &sheetsapi.Request{MoveDimension: &sheetsapi.MoveDimensionRequest{
			Source: &sheetsapi.DimensionRange{
				SheetId:    sid,
				Dimension:  dimensionRows,
				StartIndex: int64(from - 1),
				EndIndex:   int64(from),
			},
			DestinationIndex: int64(to - 1),
		}})
	}
	reqs = append(reqs, updateCellsRequest(sid, to, values))
	return c.batch(ctx, table.OpPromote, tab, reqs...)
}

// UpdateCells implements table.Backend.
func (c *Client) UpdateCells(ctx context.Context, tab string, row, col int, values []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.update(ctx, table.OpUpdate, tab, row, col, values)
}

// AppendRow implements table.Backend.
func (c *Client) AppendRow(ctx context.Context, tab string, values []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vr := &sheetsapi.ValueRange{Values: [][]interface{}{toCells(values)}}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, quote(tab)+"!A1", vr).
		ValueInputOption(inputRaw).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classify(table.OpAppend, tab, err)
	}
	return nil
}

// SortRows implements table.Backend.
func (c *Client) SortRows(ctx context.Context, tab string, col int, descending bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sid, err := c.sheetID(ctx, tab)
	if err != nil {
		return err
	}
	order := "ASCENDING"
	if descending {
		order = "DESCENDING"
	}
	return c.batch(ctx, table.OpSort, tab, &sheetsapi.Request{SortRange: &sheetsapi.SortRangeRequest{
		Range: &sheetsapi.GridRange{
			SheetId:       sid,
			StartRowIndex: table.HeaderRow,
		},
		SortSpecs: []*sheetsapi.SortSpec{{
			DimensionIndex: int64(col),
			SortOrder:      order,
		}},
	}})
}

func (c *Client) update(ctx context.Context, op, tab string, row, col int, values []string) error {
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{toCells(values)}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, table.A1(tab, row, col, len(values)), vr).
		ValueInputOption(inputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return classify(op, tab, err)
	}
	return nil
}

func (c *Client) batch(ctx context.Context, op, tab string, reqs ...*sheetsapi.Request) error {
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return classify(op, tab, err)
	}
	return nil
}

func (c *Client) addSheet(ctx context.Context, tab string) error {
	c.logger.Info("creating tab", zap.String("tab", tab))
	resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{AddSheet: &sheetsapi.AddSheetRequest{
			Properties: &sheetsapi.SheetProperties{Title: tab},
		}}},
	}).Context(ctx).Do()
	if err != nil {
		return classify(table.OpEnsure, tab, err)
	}
	for _, r := range resp.Replies {
		if r.AddSheet != nil && r.AddSheet.Properties != nil {
			c.mu.Lock()
			c.sheetIDs[tab] = r.AddSheet.Properties.SheetId
			c.mu.Unlock()
		}
	}
	return nil
}

// sheetID resolves the numeric id of tab, refreshing the cache on a miss.
func (c *Client) sheetID(ctx context.Context, tab string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[tab]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return 0, classify(table.OpRead, tab, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
		}
	}
	id, ok = c.sheetIDs[tab]
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeNotFound, "tab %s does not exist", tab)
	}
	return id, nil
}

func updateCellsRequest(sheetID int64, row int, values []string) *sheetsapi.Request {
	cells := make([]*sheetsapi.CellData, len(values))
	for i := range values {
		v := values[i]
		cells[i] = &sheetsapi.CellData{UserEnteredValue: &sheetsapi.ExtendedValue{StringValue: &v}}
	}
	return &sheetsapi.Request{UpdateCells: &sheetsapi.UpdateCellsRequest{
		Start: &sheetsapi.GridCoordinate{
			SheetId:  sheetID,
			RowIndex: int64(row - 1),
		},
		Rows:   []*sheetsapi.RowData{{Values: cells}},
		Fields: "userEnteredValue",
	}}
}

var rateReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// classify maps a Sheets API failure onto the error taxonomy the writer
// understands.
func classify(op, tab string, err error) error {
	msg := fmt.Sprintf("sheets %s on %s", op, tab)

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		var t errors.ErrorType
		switch {
		case gerr.Code == http.StatusTooManyRequests || isQuotaError(gerr):
			t = errors.ErrorTypeQuota
		case gerr.Code >= 500:
			t = errors.ErrorTypeTransient
		case gerr.Code == http.StatusUnauthorized:
			t = errors.ErrorTypeAuthentication
		case gerr.Code == http.StatusNotFound:
			t = errors.ErrorTypeNotFound
		default:
			t = errors.ErrorTypeStructural
		}
		return errors.Wrap(err, t, msg).WithDetail("status", gerr.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return errors.Wrap(err, errors.ErrorTypeConnection, msg)
	}
	return errors.Wrap(err, errors.ErrorTypeTransient, msg)
}

func isQuotaError(gerr *googleapi.Error) bool {
	if gerr.Code != http.StatusForbidden && gerr.Code != http.StatusTooManyRequests {
		return false
	}
	for _, item := range gerr.Errors {
		if rateReasons[item.Reason] {
			return true
		}
	}
	return strings.Contains(strings.ToLower(gerr.Message), "quota exceeded")
}

func quote(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		r := make([]string, len(row))
		for j, cell := range row {
			if cell != nil {
				r[j] = fmt.Sprint(cell)
			}
		}
		out[i] = r
	}
	return out
}
