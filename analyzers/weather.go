package analyzers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodeURL  = "https://nominatim.openstreetmap.org/search"
	userAgent          = "krishimitra-api"
)

var (
	ErrLocationRequired = errors.New("lat/lon or address required")
	ErrAddressNotFound  = errors.New("address not found")
)

// Forecast is the live weather for a point.
type Forecast struct {
	Current json.RawMessage `json:"current"`
	Hourly  json.RawMessage `json:"hourly"`
	Lat     float64         `json:"lat"`
	Lon     float64         `json:"lon"`
}

// WeatherClient proxies Open-Meteo forecasts and resolves addresses with
// Nominatim.
type WeatherClient struct {
	forecastURL string
	geocodeURL  string
	httpClient  *http.Client
}

func NewWeatherClient(forecastURL, geocodeURL string, timeout time.Duration) *WeatherClient {
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	if geocodeURL == "" {
		geocodeURL = DefaultGeocodeURL
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WeatherClient{
		forecastURL: forecastURL,
		geocodeURL:  geocodeURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *WeatherClient) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Geocode returns the first Nominatim match for address.
func (c *WeatherClient) Geocode(ctx context.Context, address string) (float64, float64, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("limit", "1")

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := c.getJSON(ctx, c.geocodeURL, params, &results); err != nil {
		return 0, 0, err
	}
	if len(results) == 0 {
		return 0, 0, ErrAddressNotFound
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}
	return lat, lon, nil
}

// Forecast fetches current weather and hourly temperature, precipitation
// and wind for a point.
func (c *WeatherClient) Forecast(ctx context.Context, lat, lon float64) (*Forecast, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("current_weather", "true")
	params.Set("hourly", "temperature_2m,precipitation,wind_speed_10m")

	var data struct {
		CurrentWeather json.RawMessage `json:"current_weather"`
		Hourly         json.RawMessage `json:"hourly"`
	}
	if err := c.getJSON(ctx, c.forecastURL, params, &data); err != nil {
		return nil, err
	}
	f := &Forecast{Current: data.CurrentWeather, Hourly: data.Hourly, Lat: lat, Lon: lon}
	if len(f.Current) == 0 {
		f.Current = json.RawMessage("{}")
	}
	if len(f.Hourly) == 0 {
		f.Hourly = json.RawMessage("{}")
	}
	return f, nil
}

// ForecastFor resolves the location, preferring explicit coordinates.
func (c *WeatherClient) ForecastFor(ctx context.Context, lat, lon *float64, address string) (*Forecast, error) {
	if (lat == nil || lon == nil) && strings.TrimSpace(address) != "" {
		la, lo, err := c.Geocode(ctx, address)
		if err == nil {
			lat, lon = &la, &lo
		}
	}
	if lat == nil || lon == nil {
		return nil, ErrLocationRequired
	}
	return c.Forecast(ctx, *lat, *lon)
}
