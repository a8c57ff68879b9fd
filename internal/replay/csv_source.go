package replay

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/internal/schema"
)

type tickRow struct {
	InstrumentID string `csv:"instrument_id"`
	TradingDay   string `csv:"trading_day"`
	Timestamp    string `csv:"timestamp"`
	LastPrice    string `csv:"last_price"`
	BidPrice     string `csv:"bid_price"`
	AskPrice     string `csv:"ask_price"`
	BidVolume    int64  `csv:"bid_volume"`
	AskVolume    int64  `csv:"ask_volume"`
	Volume       int64  `csv:"volume"`
	OpenInterest int64  `csv:"open_interest"`
}

type barRow struct {
	InstrumentID string `csv:"instrument_id"`
	TradingDay   string `csv:"trading_day"`
	Interval     int    `csv:"interval"`
	BarType      string `csv:"bar_type"`
	StartTime    string `csv:"start_time"`
	EndTime      string `csv:"end_time"`
	Open         string `csv:"open"`
	High         string `csv:"high"`
	Low          string `csv:"low"`
	Close        string `csv:"close"`
	Volume       int64  `csv:"volume"`
	OpenInterest int64  `csv:"open_interest"`
}

// CSVFiles lists the files a CSVSource reads. Each file may hold several instruments.
type CSVFiles struct {
	Ticks []string
	Bars  []string
}

// CSVSource serves records read from CSV files with a header row. Files are read on first use.
type CSVSource struct {
	files    CSVFiles
	location *time.Location
	memory   *MemorySource
}

// NewCSVSource creates a source over files. Timestamps without a zone are read in loc, UTC when
// nil.
func NewCSVSource(files CSVFiles, loc *time.Location) *CSVSource {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVSource{files: files, location: loc}
}

// Ticks implements Source.
func (s *CSVSource) Ticks(ctx context.Context, instrumentID string, tradingDay time.Time) ([]schema.Tick, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.memory.Ticks(ctx, instrumentID, tradingDay)
}

// Bars implements Source.
func (s *CSVSource) Bars(ctx context.Context, instrumentID string, tradingDay time.Time, interval int, barType schema.BarType) ([]schema.Bar, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.memory.Bars(ctx, instrumentID, tradingDay, interval, barType)
}

func (s *CSVSource) load() error {
	if s.memory != nil {
		return nil
	}
	memory := NewMemorySource()
	for _, path := range s.files.Ticks {
		var rows []*tickRow
		if err := readCSV(path, &rows); err != nil {
			return err
		}
		for i, row := range rows {
			tick, err := s.tick(row)
			if err != nil {
				return fmt.Errorf("csv %s row %d: %w", path, i+2, err)
			}
			memory.AddTicks(tick)
		}
	}
	for _, path := range s.files.Bars {
		var rows []*barRow
		if err := readCSV(path, &rows); err != nil {
			return err
		}
		for i, row := range rows {
			bar, err := s.bar(row)
			if err != nil {
				return fmt.Errorf("csv %s row %d: %w", path, i+2, err)
			}
			memory.AddBars(bar)
		}
	}
	s.memory = memory
	return nil
}

func readCSV(path string, out any) error {
	// #nosec G304 -- data file paths come from operator configuration.
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()
	if err := gocsv.UnmarshalFile(file, out); err != nil {
		return fmt.Errorf("read csv %s: %w", path, err)
	}
	return nil
}

func (s *CSVSource) tick(row *tickRow) (schema.Tick, error) {
	day, err := parseDay(row.TradingDay, s.location)
	if err != nil {
		return schema.Tick{}, err
	}
	ts, err := parseTimestamp(row.Timestamp, s.location)
	if err != nil {
		return schema.Tick{}, err
	}
	prices, err := parseDecimals(row.LastPrice, row.BidPrice, row.AskPrice)
	if err != nil {
		return schema.Tick{}, err
	}
	return schema.Tick{
		InstrumentID: strings.TrimSpace(row.InstrumentID),
		TradingDay:   day,
		Timestamp:    ts,
		LastPrice:    prices[0],
		BidPrice:     prices[1],
		AskPrice:     prices[2],
		BidVolume:    row.BidVolume,
		AskVolume:    row.AskVolume,
		Volume:       row.Volume,
		OpenInterest: row.OpenInterest,
	}, nil
}

func (s *CSVSource) bar(row *barRow) (schema.Bar, error) {
	day, err := parseDay(row.TradingDay, s.location)
	if err != nil {
		return schema.Bar{}, err
	}
	end, err := parseTimestamp(row.EndTime, s.location)
	if err != nil {
		return schema.Bar{}, err
	}
	var start time.Time
	if strings.TrimSpace(row.StartTime) != "" {
		if start, err = parseTimestamp(row.StartTime, s.location); err != nil {
			return schema.Bar{}, err
		}
	}
	prices, err := parseDecimals(row.Open, row.High, row.Low, row.Close)
	if err != nil {
		return schema.Bar{}, err
	}
	barType := schema.BarType(strings.ToUpper(strings.TrimSpace(row.BarType)))
	if barType != "" && !barType.Valid() {
		return schema.Bar{}, fmt.Errorf("unsupported bar type %q", row.BarType)
	}
	return schema.Bar{
		InstrumentID: strings.TrimSpace(row.InstrumentID),
		TradingDay:   day,
		Interval:     row.Interval,
		BarType:      barType,
		StartTime:    start,
		EndTime:      end,
		Open:         prices[0],
		High:         prices[1],
		Low:          prices[2],
		Close:        prices[3],
		Volume:       row.Volume,
		OpenInterest: row.OpenInterest,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp accepts the layouts above or integer Unix nanoseconds.
func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if nanos, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(0, nanos).In(loc), nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", value)
}

func parseDay(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.DateOnly, "20060102"} {
		if day, err := time.ParseInLocation(layout, value, loc); err == nil {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse trading day %q", value)
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", raw, err)
		}
		out[i] = d
	}
	return out, nil
}
