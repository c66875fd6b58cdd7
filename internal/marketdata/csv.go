package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"signal-combo-bot-go/internal/models"
)

// LoadCSV reads bars written by the downloader: open_time (ms epoch), open,
// high, low, close, volume, then any number of ignored columns. A header row is
// skipped.
func LoadCSV(path string) ([]models.Kline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(r io.Reader) ([]models.Kline, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var bars []models.Kline
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("line %d: want at least 6 columns, got %d", line, len(rec))
		}
		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: open_time %q: %w", line, rec[0], err)
		}
		bar, err := ParseKline(ms, rec[1], rec[2], rec[3], rec[4], rec[5])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// CSVProvider serves the tail of a CSV file as if it were live data. It lets
// the live loop run offline against recorded bars.
type CSVProvider struct {
	files map[string]string // interval -> path
}

// NewCSVProvider maps each interval to a downloaded file.
func NewCSVProvider(files map[string]string) *CSVProvider {
	return &CSVProvider{files: files}
}

// FetchKlines implements Provider.
func (p *CSVProvider) FetchKlines(ctx context.Context, _, interval string, limit int) ([]models.Kline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := p.files[interval]
	if !ok {
		return nil, fmt.Errorf("no csv file for interval %s", interval)
	}
	bars, err := LoadCSV(path)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
