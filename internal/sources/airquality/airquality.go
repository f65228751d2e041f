// Package airquality reads PM2.5 from PurpleAir sensors inside a bounding box.
package airquality

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "enel/pkg/logx"
)

const (
	DefaultBaseURL = "https://api.purpleair.com"
	pm25Field      = "pm2.5_atm"
	// pm25Fallback is the pm2.5 column when the response omits "fields"
	// (sensor_index, then the three requested fields).
	pm25Fallback = 3
)

var requestedFields = []string{"pm2.5_atm", "temperature", "humidity"}

type Config struct {
	BaseURL string
	APIKey  string
	NWLng   string
	SELng   string
	NWLat   string
	SELat   string
	Timeout time.Duration
}

// Reading is the task result published for getAirQuality.
type Reading struct {
	PM25    float64     `json:"pm25"`
	Sensors int         `json:"sensors"`
	Fields  []string    `json:"fields,omitempty"`
	Rows    [][]float64 `json:"data"`
}

func (r *Reading) Summary() string {
	return fmt.Sprintf("PM2.5 %.1f µg/m³ (average of %d sensors)", r.PM25, r.Sensors)
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
	Fields []string `json:"fields"`
	// Rows stay raw: PurpleAir emits null for offline sensors.
	Data [][]*float64 `json:"data"`
}

func (c *Client) endpoint() string {
	q := url.Values{}
	q.Set("location_type", "0")
	q.Set("nwlng", c.cfg.NWLng)
	q.Set("selng", c.cfg.SELng)
	q.Set("nwlat", c.cfg.NWLat)
	q.Set("selat", c.cfg.SELat)
	q.Set("fields", strings.Join(requestedFields, ","))
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/sensors?" + q.Encode()
}

// Fetch averages pm2.5 over the sensors in the box. It returns (nil, nil)
// when the box has no sensor data.
func (c *Client) Fetch(ctx context.Context) (*Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("purpleair request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("purpleair read: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("purpleair: http status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("purpleair decode: %w", err)
	}
	if len(data.Data) == 0 {
		c.log.Info("no sensor data available")
		return nil, nil
	}

	col := pm25Fallback
	for i, f := range data.Fields {
		if f == pm25Field {
			col = i
			break
		}
	}

	r := &Reading{Fields: data.Fields, Rows: make([][]float64, 0, len(data.Data))}
	var sum float64
	for _, row := range data.Data {
		vals := make([]float64, len(row))
		for i, v := range row {
			if v != nil {
				vals[i] = *v
			}
		}
		r.Rows = append(r.Rows, vals)
		if col < len(row) && row[col] != nil {
			sum += *row[col]
			r.Sensors++
		}
	}
	if r.Sensors == 0 {
		c.log.Info("no sensor data available", logx.Int("rows", len(data.Data)))
		return nil, nil
	}
	r.PM25 = sum / float64(r.Sensors)
	c.log.Debug("air quality fetched", logx.Float64("pm25", r.PM25), logx.Int("sensors", r.Sensors))
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
