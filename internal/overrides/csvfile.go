// Package overrides implements the manual override channel: a CSV file the
// operator edits by hand, polled for PENDING rows that are executed against
// the brokerage and rewritten with the outcome.
package overrides

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"orbtrader/internal/ports"
)

var header = []string{"symbol", "action", "qty", "price", "status"}

// CSVChannel implements ports.OverrideChannel on top of a CSV file with
// columns {symbol, action, qty, price, status}. Row IDs are 1-based data row
// indexes; the header row is preserved on rewrite.
type CSVChannel struct {
	path   string
	logger ports.Logger
}

// NewCSVChannel creates a channel backed by the file at path. The file does
// not need to exist yet; a missing file simply has no pending rows.
func NewCSVChannel(path string, logger ports.Logger) (*CSVChannel, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: override file path is required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	return &CSVChannel{path: path, logger: logger}, nil
}

// Pending returns the rows whose status column is PENDING.
func (c *CSVChannel) Pending(ctx context.Context) ([]ports.OverrideRow, error) {
	rows, err := c.readAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	pending := make([]ports.OverrideRow, 0)
	for _, row := range rows {
		if strings.EqualFold(row.Status, ports.OverrideStatusPending) {
			pending = append(pending, row)
		}
	}
	return pending, nil
}

// SetStatus rewrites the status column of row id, leaving everything else
// untouched.
func (c *CSVChannel) SetStatus(ctx context.Context, id int, status string) error {
	rows, err := c.readAll()
	if err != nil {
		return err
	}

	found := false
	for i := range rows {
		if rows[i].ID == id {
			rows[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: override row %d", ports.ErrNotFound, id)
	}
	return c.writeAll(rows)
}

func (c *CSVChannel) readAll() ([]ports.OverrideRow, error) {
	file, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(header)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse override file %s: %w", c.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]ports.OverrideRow, 0, len(records)-1)
	for i, record := range records[1:] { // skip header
		row, err := parseRow(i+1, record)
		if err != nil {
			c.logger.Warn(context.Background(), "Skipping malformed override row",
				map[string]interface{}{"row": i + 1, "error": err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *CSVChannel) writeAll(rows []ports.OverrideRow) error {
	tmp := c.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create override file %s: %w", tmp, err)
	}

	writer := csv.NewWriter(file)
	writer.Write(header)
	for _, row := range rows {
		writer.Write([]string{
			row.Symbol,
			row.Action,
			strconv.FormatInt(row.Qty, 10),
			strconv.FormatFloat(row.Price, 'f', -1, 64),
			row.Status,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write override file %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// Atomic swap so a concurrent operator edit never sees a half-written file.
	return os.Rename(tmp, c.path)
}

func parseRow(id int, record []string) (ports.OverrideRow, error) {
	qty, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
	if err != nil {
		return ports.OverrideRow{}, fmt.Errorf("invalid qty %q", record[2])
	}
	price := 0.0
	if p := strings.TrimSpace(record[3]); p != "" {
		price, err = strconv.ParseFloat(p, 64)
		if err != nil {
			return ports.OverrideRow{}, fmt.Errorf("invalid price %q", record[3])
		}
	}
	return ports.OverrideRow{
		ID:     id,
		Symbol: strings.ToUpper(strings.TrimSpace(record[0])),
		Action: strings.ToUpper(strings.TrimSpace(record[1])),
		Qty:    qty,
		Price:  price,
		Status: strings.TrimSpace(record[4]),
	}, nil
}
