package calendarapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
)

// Client fetches economic and holiday calendars from the calendar HTTP
// service (the scraping sidecar). It implements economic.CalendarSource and
// market.HolidaySource. Failed or empty upstream responses surface as empty
// slices so callers keep running without alerts for the day.
type Client struct {
	logger     *zap.Logger
	baseURL    string
	countries  []string
	importance int
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Countries  []string
	Importance int
	Timeout    time.Duration
}

// New creates a calendar API client.
func New(logger *zap.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		logger:     logger.Named("calendarapi"),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		countries:  opts.Countries,
		importance: opts.Importance,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// FetchEvents returns the economic calendar for one date.
func (c *Client) FetchEvents(ctx context.Context, date string) ([]model.EconomicEvent, error) {
	params := url.Values{}
	params.Set("date", date)
	params.Set("importance", fmt.Sprintf("%d", c.importance))
	if len(c.countries) > 0 {
		params.Set("countries", strings.Join(c.countries, ","))
	}

	var events []model.EconomicEvent
	if err := c.get(ctx, "/economic-calendar", params, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// FetchHolidays returns the holiday calendar for a date range.
func (c *Client) FetchHolidays(ctx context.Context, from, to string) ([]model.HolidayEvent, error) {
	params := url.Values{}
	params.Set("from", from)
	params.Set("to", to)

	var holidays []model.HolidayEvent
	if err := c.get(ctx, "/holiday-calendar", params, &holidays); err != nil {
		return nil, err
	}
	return holidays, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching calendar", zap.String("url", u))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("calendar service returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode calendar response: %w", err)
	}
	return nil
}
