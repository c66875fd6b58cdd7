package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"signal-combo-bot-go/internal/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestDownloadKlinesWritesLoadableCSV(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1704067200000,"100.5","101","99.5","100.8","12.5",1704068099999,"1250",10,"6","600"],
			[1704068100000,"100.8","102","100.1","101.9","8",1704068999999,"800",5,"4","400"]
		]`))
	}))
	defer srv.Close()

	d := NewKlineDownloader(rate.NewLimiter(rate.Inf, 1), zap.NewNop())
	d.SetBaseURL(srv.URL)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	path := FilePath(t.TempDir(), "BTCUSDT", "15m", start, end)
	assert.Equal(t, "BTCUSDT-15m-20240101-20240102.csv", filepath.Base(path))

	require.NoError(t, d.DownloadKlines(context.Background(), "BTCUSDT", "15m", path, start, end))
	assert.Equal(t, int32(1), calls.Load(), "a short page ends the download")

	bars, err := marketdata.LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 101.9, bars[1].Close)

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))

	// Second call is a cache hit.
	require.NoError(t, d.DownloadKlines(context.Background(), "BTCUSDT", "15m", path, start, end))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadKlinesFailureLeavesNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewKlineDownloader(rate.NewLimiter(rate.Inf, 1), nil)
	d.SetBaseURL(srv.URL)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "bad.csv")
	err := d.DownloadKlines(context.Background(), "NOPE", "1h", path, start, start.Add(time.Hour))
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
