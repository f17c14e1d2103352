package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sightama/canifuckingdownwindtoday/internal/models"
	"github.com/sightama/canifuckingdownwindtoday/internal/observability"
)

// Client fetches the current reading from the wind sensor feed.
type Client interface {
	Fetch(ctx context.Context) (models.Reading, error)
}

var (
	ErrUnavailable = errors.New("sensor unavailable")
	ErrBadResponse = errors.New("sensor response unparseable")
)

// SpotClient is a client for the WeatherFlow spot API, the feed behind the
// Jupiter-Juno Beach Pier station. One attempt per Fetch; a single failure is
// enough to push the service into offline handling, so there is no retry loop.
type SpotClient struct {
	token   string
	spotID  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
}

// NewSpotClient creates a SpotClient for the given station.
func NewSpotClient(token, spotID, apiURL string, timeout time.Duration) (*SpotClient, error) {
	if token == "" {
		return nil, fmt.Errorf("sensor token is required")
	}
	if spotID == "" {
		return nil, fmt.Errorf("sensor spot id is required")
	}
	return &SpotClient{
		token:   token,
		spotID:  spotID,
		apiURL:  apiURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// spotResponse mirrors the parts of the spot API payload we read. Field names
// are zipped with per-station value rows.
type spotResponse struct {
	Status struct {
		StatusCode int `json:"status_code"`
	} `json:"status"`
	Spots []struct {
		Name      string   `json:"name"`
		DataNames []string `json:"data_names"`
		Stations  []struct {
			DataValues [][]json.RawMessage `json:"data_values"`
		} `json:"stations"`
	} `json:"spots"`
}

// Fetch retrieves the current reading. Any HTTP, API-status, or parse problem
// comes back as an error; the caller decides what offline handling means.
func (c *SpotClient) Fetch(ctx context.Context) (models.Reading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx)
	if err != nil {
		observability.SensorFetchesTotal.WithLabelValues("error").Inc()
		return models.Reading{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.SensorFetchesTotal.WithLabelValues("error").Inc()
		observability.SensorFetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	status := "success"
	if resp.StatusCode != http.StatusOK {
		status = "error"
	}
	observability.SensorFetchesTotal.WithLabelValues(status).Inc()
	observability.SensorFetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return models.Reading{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Reading{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp spotResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Reading{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if apiResp.Status.StatusCode != 0 {
		return models.Reading{}, fmt.Errorf("%w: api status %d", ErrUnavailable, apiResp.Status.StatusCode)
	}

	return parseReading(apiResp)
}

func (c *SpotClient) buildRequest(ctx context.Context) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("units_wind", "kts")
	params.Set("units_temp", "f")
	params.Set("units_distance", "mi")
	params.Set("units_precip", "in")
	params.Set("include_spot_products", "true")
	params.Set("stormprint_only", "false")
	params.Set("wf_token", c.token)
	params.Set("spot_types", "1,100,101")
	params.Set("spot_list", c.spotID)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", "https://wx.ikitesurf.com")
	req.Header.Set("Referer", "https://wx.ikitesurf.com/")
	return req, nil
}

// parseReading zips the spot's field names with the first station's first
// value row and maps the observation into a Reading.
func parseReading(apiResp spotResponse) (models.Reading, error) {
	if len(apiResp.Spots) == 0 {
		return models.Reading{}, fmt.Errorf("%w: no spots", ErrBadResponse)
	}
	spot := apiResp.Spots[0]
	if len(spot.Stations) == 0 || len(spot.Stations[0].DataValues) == 0 {
		return models.Reading{}, fmt.Errorf("%w: no station data", ErrBadResponse)
	}
	row := spot.Stations[0].DataValues[0]
	if len(row) != len(spot.DataNames) {
		return models.Reading{}, fmt.Errorf("%w: %d names vs %d values", ErrBadResponse, len(spot.DataNames), len(row))
	}

	obs := make(map[string]json.RawMessage, len(row))
	for i, name := range spot.DataNames {
		obs[name] = row[i]
	}

	ts, err := parseUTC(stringField(obs, "utc_timestamp"))
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: timestamp: %v", ErrBadResponse, err)
	}

	r := models.Reading{
		WindSpeedKts:  floatField(obs, "avg"),
		WindGustKts:   floatField(obs, "gust"),
		WindLullKts:   floatField(obs, "lull"),
		WindDirection: stringFieldDefault(obs, "dir_text", "N"),
		WindDegrees:   int(floatField(obs, "dir")),
		AirTempF:      floatField(obs, "atemp"),
		WindDesc:      stringField(obs, "wind_desc"),
		SpotName:      spot.Name,
		Timestamp:     ts,
	}
	if v, ok := optionalFloat(obs, "wtemp"); ok {
		r.WaterTempF = &v
	}
	if v, ok := optionalFloat(obs, "pres"); ok {
		r.PressureMb = &v
	}
	if v, ok := optionalFloat(obs, "humidity"); ok {
		r.HumidityPct = &v
	}
	return r, nil
}

func parseUTC(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// The feed mixes numbers, quoted numbers, and nulls in value rows, so every
// field goes through lenient decoding.
func floatField(obs map[string]json.RawMessage, name string) float64 {
	v, _ := optionalFloat(obs, name)
	return v
}

func optionalFloat(obs map[string]json.RawMessage, name string) (float64, bool) {
	raw, ok := obs[name]
	if !ok || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringField(obs map[string]json.RawMessage, name string) string {
	raw, ok := obs[name]
	if !ok || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func stringFieldDefault(obs map[string]json.RawMessage, name, def string) string {
	if s := stringField(obs, name); s != "" {
		return s
	}
	return def
}
