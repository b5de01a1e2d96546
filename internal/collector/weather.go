package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agriplan/internal/model"
)

// ErrInvalidHorizon is returned for forecast horizons other than 7 or 30.
var ErrInvalidHorizon = errors.New("forecast horizon must be 7 or 30 days")

// WeatherDay is one day of forecast.
type WeatherDay struct {
	Date     string `json:"fxDate"`
	TempMin  string `json:"tempMin"`
	TempMax  string `json:"tempMax"`
	TextDay  string `json:"textDay"`
	Precip   string `json:"precip"`
	WindDir  string `json:"windDirDay"`
	Humidity string `json:"humidity"`
}

// Warning is an active weather warning.
type Warning struct {
	TypeName  string `json:"typeName"`
	Level     string `json:"level"`
	Severity  string `json:"severity"`
	Text      string `json:"text"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type forecastResponse struct {
	Code  string       `json:"code"`
	Daily []WeatherDay `json:"daily"`
}

type warningResponse struct {
	Code    string    `json:"code"`
	Warning []Warning `json:"warning"`
}

// WeatherCollector queries a QWeather v7 compatible API.
type WeatherCollector struct {
	Host           string
	APIKey         string
	DefaultHorizon int
	client         *http.Client
}

func NewWeatherCollector(host, apiKey string, defaultHorizon int, timeout time.Duration) *WeatherCollector {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if defaultHorizon == 0 {
		defaultHorizon = 7
	}
	return &WeatherCollector{
		Host:           strings.TrimSuffix(host, "/"),
		APIKey:         apiKey,
		DefaultHorizon: defaultHorizon,
		client:         &http.Client{Timeout: timeout},
	}
}

func (*WeatherCollector) Variant() model.Variant { return model.Environmental }

// Collect fetches the forecast and active warnings concurrently. No
// coordinates means not provided; any forecast failure is reported as
// ErrContextUnavailable. A failed warning lookup only degrades the alerts
// field.
func (w *WeatherCollector) Collect(ctx context.Context, in Input) (*model.ContextRecord, error) {
	if !in.Location.HasCoords() {
		return nil, nil
	}
	horizon := in.HorizonDays
	if horizon == 0 {
		horizon = w.DefaultHorizon
	}
	if horizon != 7 && horizon != 30 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizon)
	}
	lat, lon := *in.Location.Lat, *in.Location.Lon

	var (
		days     []WeatherDay
		warnings []Warning
		warnErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		days, err = w.Forecast(gctx, lat, lon, horizon)
		return err
	})
	g.Go(func() error {
		warnings, warnErr = w.Warnings(gctx, lat, lon)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	alerts := FormatWarnings(warnings)
	if warnErr != nil {
		alerts = "unknown (warning lookup failed)"
	}
	fields := map[string]model.Value{
		"horizon_days": model.Number(float64(horizon)),
		"forecast":     model.String(FormatForecast(days)),
		"alerts":       model.String(alerts),
	}
	rec := model.NewRecord(model.Environmental, "qweather", time.Now().UTC(), fields)
	return &rec, nil
}

// Forecast returns up to days days of forecast.
func (w *WeatherCollector) Forecast(ctx context.Context, lat, lon float64, days int) ([]WeatherDay, error) {
	var resp forecastResponse
	if err := w.get(ctx, fmt.Sprintf("/v7/weather/%dd", days), lat, lon, &resp); err != nil {
		return nil, err
	}
	if len(resp.Daily) == 0 {
		return nil, unavailable("no daily forecast returned (code %s)", resp.Code)
	}
	if len(resp.Daily) > days {
		resp.Daily = resp.Daily[:days]
	}
	return resp.Daily, nil
}

// Warnings returns active warnings, empty when there are none.
func (w *WeatherCollector) Warnings(ctx context.Context, lat, lon float64) ([]Warning, error) {
	var resp warningResponse
	if err := w.get(ctx, "/v7/warning/now", lat, lon, &resp); err != nil {
		return nil, err
	}
	return resp.Warning, nil
}

func (w *WeatherCollector) get(ctx context.Context, path string, lat, lon float64, out interface{}) error {
	q := url.Values{}
	q.Set("location", formatCoord(lon)+","+formatCoord(lat))
	q.Set("key", w.APIKey)
	u := w.Host + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("weather request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return unavailable("weather api unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return unavailable("read weather response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return unavailable("weather api returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return unavailable("decode weather response: %v", err)
	}
	return nil
}

// FormatForecast renders one line per day.
func FormatForecast(days []WeatherDay) string {
	if len(days) == 0 {
		return "No weather data available."
	}
	lines := make([]string, len(days))
	for i, d := range days {
		lines[i] = fmt.Sprintf("%s: %s, %s-%s°C, precip %smm, humidity %s%%, wind %s",
			d.Date, d.TextDay, d.TempMin, d.TempMax, d.Precip, d.Humidity, d.WindDir)
	}
	return strings.Join(lines, "\n")
}

// FormatWarnings renders one line per warning, or "none".
func FormatWarnings(ws []Warning) string {
	if len(ws) == 0 {
		return "none"
	}
	lines := make([]string, len(ws))
	for i, w := range ws {
		level := w.Level
		if level == "" {
			level = w.Severity
		}
		line := fmt.Sprintf("%s (level: %s) - %s", w.TypeName, level, w.Text)
		if w.StartTime != "" {
			line += " (start: " + w.StartTime + ")"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
