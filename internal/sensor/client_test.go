package sensor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const spotPayload = `{
	"status": {"status_code": 0},
	"spots": [{
		"name": "Jupiter-Juno Beach Pier",
		"data_names": ["avg", "gust", "lull", "dir", "dir_text", "atemp", "wtemp", "pres", "humidity", "wind_desc", "utc_timestamp"],
		"stations": [{
			"data_values": [[18.2, 22.0, "15.5", 355, "N", 81.0, null, 1014.2, 68, "Fresh breeze", "2025-06-01 16:00:00"]]
		}]
	}]
}`

// TestSpotClient_Fetch_ParsesReading verifies a full payload round trip
// including quoted numbers and nulls in the value row.
func TestSpotClient_Fetch_ParsesReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("wf_token"); got != "test-token" {
			t.Errorf("wf_token = %q, want test-token", got)
		}
		if got := r.URL.Query().Get("spot_list"); got != "453" {
			t.Errorf("spot_list = %q, want 453", got)
		}
		if got := r.URL.Query().Get("units_wind"); got != "kts" {
			t.Errorf("units_wind = %q, want kts", got)
		}
		fmt.Fprint(w, spotPayload)
	}))
	defer srv.Close()

	c, err := NewSpotClient("test-token", "453", srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewSpotClient() error = %v", err)
	}

	r, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if r.WindSpeedKts != 18.2 {
		t.Errorf("WindSpeedKts = %v, want 18.2", r.WindSpeedKts)
	}
	if r.WindLullKts != 15.5 {
		t.Errorf("WindLullKts = %v, want 15.5 (quoted number)", r.WindLullKts)
	}
	if r.WindDirection != "N" {
		t.Errorf("WindDirection = %q, want N", r.WindDirection)
	}
	if r.WindDegrees != 355 {
		t.Errorf("WindDegrees = %d, want 355", r.WindDegrees)
	}
	if r.WaterTempF != nil {
		t.Errorf("WaterTempF = %v, want nil for null field", *r.WaterTempF)
	}
	if r.PressureMb == nil || *r.PressureMb != 1014.2 {
		t.Error("PressureMb missing or wrong")
	}
	if r.SpotName != "Jupiter-Juno Beach Pier" {
		t.Errorf("SpotName = %q", r.SpotName)
	}
	want := time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
	}
}

// TestSpotClient_Fetch_HTTPError verifies an upstream 5xx maps to
// ErrUnavailable.
func TestSpotClient_Fetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := NewSpotClient("t", "453", srv.URL, 5*time.Second)
	_, err := c.Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrUnavailable", err)
	}
}

// TestSpotClient_Fetch_APIStatusError verifies a non-zero API status code
// maps to ErrUnavailable even with HTTP 200.
func TestSpotClient_Fetch_APIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": {"status_code": 5}, "spots": []}`)
	}))
	defer srv.Close()

	c, _ := NewSpotClient("t", "453", srv.URL, 5*time.Second)
	_, err := c.Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrUnavailable", err)
	}
}

// TestSpotClient_Fetch_MalformedBody verifies garbage maps to ErrBadResponse.
func TestSpotClient_Fetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>maintenance</html>`)
	}))
	defer srv.Close()

	c, _ := NewSpotClient("t", "453", srv.URL, 5*time.Second)
	_, err := c.Fetch(context.Background())
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("Fetch() error = %v, want ErrBadResponse", err)
	}
}

// TestSpotClient_Fetch_MismatchedRow verifies a value row shorter than the
// field list is rejected instead of mis-zipped.
func TestSpotClient_Fetch_MismatchedRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"status": {"status_code": 0},
			"spots": [{
				"name": "x",
				"data_names": ["avg", "gust", "lull"],
				"stations": [{"data_values": [[18.2]]}]
			}]
		}`)
	}))
	defer srv.Close()

	c, _ := NewSpotClient("t", "453", srv.URL, 5*time.Second)
	_, err := c.Fetch(context.Background())
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("Fetch() error = %v, want ErrBadResponse", err)
	}
}

// TestNewSpotClient_Validation verifies constructor input checks.
func TestNewSpotClient_Validation(t *testing.T) {
	if _, err := NewSpotClient("", "453", "http://x", time.Second); err == nil {
		t.Error("NewSpotClient() with empty token, want error")
	}
	if _, err := NewSpotClient("tok", "", "http://x", time.Second); err == nil {
		t.Error("NewSpotClient() with empty spot id, want error")
	}
}
