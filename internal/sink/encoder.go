package sink

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/quantfeed/newswire/internal/newswire"
)

// encoder serializes one batch of records into a file body.
type encoder interface {
	Encode(records []newswire.ExtractionRecord) ([]byte, error)
	Ext() string
}

func newEncoder(format string) (encoder, error) {
	switch strings.ToLower(format) {
	case "parquet":
		return parquetEncoder{}, nil
	case "csv":
		return csvEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// parquetRow is the flat schema written to parquet files. Timestamps go out
// as RFC3339 strings so downstream loaders don't fight over timestamp
// logical types.
type parquetRow struct {
	URL          string   `parquet:"url"`
	FetchedAt    string   `parquet:"fetched_at"`
	Title        string   `parquet:"title"`
	PublishDate  string   `parquet:"publish_date"`
	Content      string   `parquet:"content"`
	Source       string   `parquet:"source"`
	Keywords     []string `parquet:"keywords,list"`
	Summary      string   `parquet:"summary"`
	MarketType   string   `parquet:"market_type"`
	Sentiment    string   `parquet:"sentiment"`
	MarketImpact string   `parquet:"market_impact"`
	Language     string   `parquet:"language"`
	Status       string   `parquet:"status"`
}

type parquetEncoder struct{}

func (parquetEncoder) Ext() string { return "parquet" }

func (parquetEncoder) Encode(records []newswire.ExtractionRecord) ([]byte, error) {
	rows := make([]parquetRow, len(records))
	for i, r := range records {
		rows[i] = parquetRow{
			URL:          r.URL,
			FetchedAt:    r.FetchedAt.UTC().Format(time.RFC3339),
			Title:        r.Title,
			PublishDate:  r.PublishDate,
			Content:      r.Content,
			Source:       r.Source,
			Keywords:     r.Keywords,
			Summary:      r.Summary,
			MarketType:   r.MarketType,
			Sentiment:    r.Sentiment,
			MarketImpact: r.MarketImpact,
			Language:     r.Language,
			Status:       r.Status,
		}
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[parquetRow](&buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

type csvEncoder struct{}

func (csvEncoder) Ext() string { return "csv" }

var csvHeader = []string{
	"url", "fetched_at", "title", "publish_date", "content", "source",
	"keywords", "summary", "market_type", "sentiment", "market_impact",
	"language", "status",
}

func (csvEncoder) Encode(records []newswire.ExtractionRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.URL,
			r.FetchedAt.UTC().Format(time.RFC3339),
			r.Title,
			r.PublishDate,
			r.Content,
			r.Source,
			strings.Join(r.Keywords, ";"),
			r.Summary,
			r.MarketType,
			r.Sentiment,
			r.MarketImpact,
			r.Language,
			r.Status,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
