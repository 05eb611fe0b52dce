package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultSocrataURL is San Francisco's COVID-19 cases dataset.
const DefaultSocrataURL = "https://data.sfgov.org/resource/tvq9-ec9w.json"

const (
	datasetDate = "2006-01-02"
	reportDate  = "01-02-2006"
)

type Report struct {
	StartDate   string         `json:"start_date"`
	EndDate     string         `json:"end_date"`
	TotalCases  int            `json:"total_cases"`
	TotalDeaths int            `json:"total_deaths"`
	NewCases    map[string]int `json:"new_cases"`
	Source      string         `json:"src"`
}

type ReportSource interface {
	Fetch(ctx context.Context) (*Report, error)
}

// SocrataSource builds the report from SoQL queries. The start date of the
// dataset never moves, so it is looked up once and kept on the value.
type SocrataSource struct {
	url    string
	client *http.Client
	tracer trace.Tracer

	mu        sync.Mutex
	startDate string
}

// NewSocrataSource returns a source for the dataset at endpoint. A non-empty
// startDate (YYYY-MM-DD) skips the start date lookup. The client's
// transport is wrapped so queries carry the caller's trace context.
func NewSocrataSource(endpoint, startDate string, client *http.Client) *SocrataSource {
	if endpoint == "" {
		endpoint = DefaultSocrataURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	traced := *client
	traced.Transport = otelhttp.NewTransport(client.Transport)

	return &SocrataSource{
		url:       endpoint,
		client:    &traced,
		tracer:    otel.Tracer("report-source"),
		startDate: startDate,
	}
}

func (s *SocrataSource) Fetch(ctx context.Context) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "report.fetch",
		trace.WithAttributes(
			attribute.String("report.url", s.url),
			attribute.String("operation", "report.fetch"),
		))
	defer span.End()

	start, err := s.start(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	end, err := s.queryDate(ctx, "SELECT specimen_collection_date AS end_date ORDER BY specimen_collection_date DESC LIMIT 1", "end_date")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var totalCases, totalDeaths, newCases int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totalCases, err = s.queryInt(gctx, "SELECT SUM(case_count) AS total_cases", "total_cases")
		return err
	})
	g.Go(func() (err error) {
		totalDeaths, err = s.queryInt(gctx, "SELECT COUNT(case_disposition) AS total_deaths WHERE case_disposition='Death'", "total_deaths")
		return err
	})
	g.Go(func() (err error) {
		newCases, err = s.queryInt(gctx, fmt.Sprintf("SELECT SUM(case_count) AS new_cases WHERE specimen_collection_date='%s'", end.Format(datasetDate)), "new_cases")
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	endDate := end.Format(reportDate)
	return &Report{
		StartDate:   start.Format(reportDate),
		EndDate:     endDate,
		TotalCases:  totalCases,
		TotalDeaths: totalDeaths,
		NewCases:    map[string]int{endDate: newCases},
		Source:      s.url,
	}, nil
}

func (s *SocrataSource) start(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startDate != "" {
		t, err := time.Parse(datasetDate, s.startDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid report start date %q: %w", s.startDate, err)
		}
		return t, nil
	}

	t, err := s.queryDate(ctx, "SELECT specimen_collection_date AS end_date ORDER BY specimen_collection_date ASC LIMIT 1", "end_date")
	if err != nil {
		return time.Time{}, err
	}
	s.startDate = t.Format(datasetDate)
	return t, nil
}

func (s *SocrataSource) queryDate(ctx context.Context, soql, column string) (time.Time, error) {
	raw, err := s.queryColumn(ctx, soql, column)
	if err != nil {
		return time.Time{}, err
	}
	if len(raw) < len(datasetDate) {
		return time.Time{}, fmt.Errorf("unexpected date %q in column %s", raw, column)
	}
	t, err := time.Parse(datasetDate, raw[:len(datasetDate)])
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return t, nil
}

func (s *SocrataSource) queryInt(ctx context.Context, soql, column string) (int, error) {
	raw, err := s.queryColumn(ctx, soql, column)
	if err != nil {
		return 0, err
	}
	// Aggregates over no rows come back without the column.
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return n, nil
}

// queryColumn runs a single row query and returns one column of it.
func (s *SocrataSource) queryColumn(ctx context.Context, soql, column string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid report url: %w", err)
	}
	u.RawQuery = url.Values{"$query": {soql}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query report source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("report source returned status %d", resp.StatusCode)
	}

	var rows []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return "", fmt.Errorf("failed to decode report response: %w", err)
	}
	if len(rows) == 0 {
		return "", errors.New("report source returned no rows")
	}

	// SODA encodes aggregates as strings, but accept plain numbers too.
	switch v := rows[0][column].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unexpected %T in column %s", v, column)
	}
}
