// Package weather fetches current conditions from the OpenWeatherMap API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "enel/pkg/logx"
)

const DefaultBaseURL = "https://api.openweathermap.org"

var ErrEmptyResponse = errors.New("weather: empty response")

type Config struct {
	BaseURL string
	APIKey  string
	City    string
	Country string // ISO country code appended to the city query
	Units   string // metric | imperial | standard
	Timeout time.Duration
}

// Report is the task result published for getWeather.
type Report struct {
	Description string          `json:"description"`
	City        string          `json:"city"`
	Condition   string          `json:"condition"`
	TempC       float64         `json:"temp"`
	Humidity    int             `json:"humidity"`
	Clouds      int             `json:"clouds"`
	Observed    time.Time       `json:"observed"`
	Raw         json.RawMessage `json:"data"`
}

func (r *Report) Summary() string {
	if r.City == "" {
		return r.Description
	}
	return r.City + ": " + r.Description
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

type apiResponse struct {
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
}

func (c *Client) endpoint() string {
	q := url.Values{}
	city := strings.TrimSpace(c.cfg.City)
	if cc := strings.TrimSpace(c.cfg.Country); cc != "" {
		city += "," + cc
	}
	q.Set("q", city)
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", c.cfg.Units)
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/data/2.5/weather?" + q.Encode()
}

// Fetch returns the current weather for the configured city.
func (c *Client) Fetch(ctx context.Context) (*Report, error) {
	if strings.TrimSpace(c.cfg.City) == "" {
		return nil, errors.New("weather: city not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("weather read: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("weather: http status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrEmptyResponse
	}

	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("weather decode: %w", err)
	}
	if len(data.Weather) == 0 {
		return nil, fmt.Errorf("weather: no conditions in response for %s", c.cfg.City)
	}

	r := &Report{
		City:      data.Name,
		Condition: data.Weather[0].Main,
		TempC:     data.Main.Temp,
		Humidity:  data.Main.Humidity,
		Clouds:    data.Clouds.All,
		Raw:       json.RawMessage(body),
	}
	if data.Dt > 0 {
		r.Observed = time.Unix(data.Dt, 0).UTC()
	}
	r.Description = Describe(data.Main.Temp, data.Weather[0].Description, data.Clouds.All, data.Main.Humidity)
	c.log.Debug("weather fetched", logx.String("city", r.City), logx.String("desc", r.Description))
	return r, nil
}

// Describe renders "12 degrees light rain (75% clouds) (80% humidity)".
func Describe(temp float64, desc string, clouds, humidity int) string {
	return fmt.Sprintf("%d degrees %s (%d%% clouds) (%d%% humidity)", int(math.Round(temp)), desc, clouds, humidity)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
