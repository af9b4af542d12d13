package collectors

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// WeatherCollector fetches the Open-Meteo ensemble forecast (falling
// back to the deterministic forecast endpoint) and reduces it to one
// per-member daily max sample per poll.
type WeatherCollector struct {
	http *resty.Client

	Latitude       float64
	Longitude      float64
	Timezone       string
	EnsembleModels []string
	ForecastDays   int
}

func NewWeatherCollector(lat, lon float64, timezone string, ensembleModels []string, forecastDays int) *WeatherCollector {
	return &WeatherCollector{
		http:           resty.New().SetTimeout(20 * time.Second),
		Latitude:       lat,
		Longitude:      lon,
		Timezone:       timezone,
		EnsembleModels: ensembleModels,
		ForecastDays:   forecastDays,
	}
}

type openMeteoPayload struct {
	Hourly map[string]any `json:"hourly"`
}

// FetchEnsembleSamples queries Open-Meteo for today's local date and
// returns one daily-max sample per ensemble member that reported a
// reading inside the measurement window.
func (c *WeatherCollector) FetchEnsembleSamples(ctx context.Context, now time.Time) []domain.EnsembleSample {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("weather_timezone_invalid", "timezone", c.Timezone, "err", err)
		loc = time.UTC
	}
	localNow := now.In(loc)
	targetDate := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)

	payload := c.fetchPayload(ctx)
	if payload == nil {
		return nil
	}

	times, ok := payload.Hourly["time"].([]any)
	if !ok || len(times) == 0 {
		return nil
	}

	start, end := measurementWindow(targetDate, loc)

	var samples []domain.EnsembleSample
	for key, raw := range payload.Hourly {
		if key == "time" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(key), "temperature_2m") {
			continue
		}
		values, ok := raw.([]any)
		if !ok || len(values) != len(times) {
			continue
		}
		max, found := dailyMax(times, values, start, end, loc)
		if !found {
			continue
		}
		samples = append(samples, domain.EnsembleSample{
			CollectedAt: now,
			TargetDate:  targetDate,
			Model:       modelFromMemberKey(key),
			Member:      key,
			MaxTempF:    max,
		})
	}
	return samples
}

func (c *WeatherCollector) fetchPayload(ctx context.Context) *openMeteoPayload {
	ensembleModels := strings.Join(c.EnsembleModels, ",")
	forecastModels := forecastModelsFromEnsembleModels(c.EnsembleModels)

	attempts := []struct {
		url    string
		models string
	}{
		{"https://api.open-meteo.com/v1/ensemble", ensembleModels},
		{"https://api.open-meteo.com/v1/forecast", forecastModels},
	}

	for _, attempt := range attempts {
		var payload openMeteoPayload
		resp, err := c.http.R().SetContext(ctx).SetResult(&payload).
			SetQueryParams(map[string]string{
				"latitude":          floatParam(c.Latitude),
				"longitude":         floatParam(c.Longitude),
				"hourly":            "temperature_2m",
				"temperature_unit":  "fahrenheit",
				"models":            attempt.models,
				"forecast_days":     intParam(c.ForecastDays),
				"timezone":          c.Timezone,
			}).
			Get(attempt.url)
		if err != nil || resp.IsError() {
			slog.Warn("open_meteo_request_failed", "endpoint", attempt.url, "status", statusOf(resp), "err", err)
			continue
		}
		if payload.Hourly != nil {
			return &payload
		}
	}
	return nil
}

// measurementWindow returns the half-open local interval a daily max is
// computed over: [01:00, next-day 01:00) on DST days, [00:00, next-day
// 00:00) on standard days. DST is detected by comparing the zone offset
// at local noon on date against the offset in January of the same year.
func measurementWindow(date time.Time, loc *time.Location) (time.Time, time.Time) {
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)
	_, offset := noon.Zone()
	jan := time.Date(date.Year(), time.January, 15, 12, 0, 0, 0, loc)
	_, janOffset := jan.Zone()

	dst := offset != janOffset
	if dst {
		start := time.Date(date.Year(), date.Month(), date.Day(), 1, 0, 0, 0, loc)
		return start, start.Add(24 * time.Hour)
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return start, start.Add(24 * time.Hour)
}

func dailyMax(times, values []any, start, end time.Time, loc *time.Location) (float64, bool) {
	var max float64
	found := false
	for i, rawTime := range times {
		timeStr, ok := rawTime.(string)
		if !ok {
			continue
		}
		ts, err := parseLocalHour(timeStr, loc)
		if err != nil {
			continue
		}
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		reading, ok := asFloat(values[i])
		if !ok {
			continue
		}
		if !found || reading > max {
			max = reading
			found = true
		}
	}
	return max, found
}

func parseLocalHour(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02T15:04", value, loc)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func modelFromMemberKey(memberKey string) string {
	normalized := strings.ToLower(memberKey)
	switch {
	case normalized == "temperature_2m":
		return "best_match"
	case strings.Contains(normalized, "gfs"):
		return "gfs_ensemble"
	case strings.Contains(normalized, "ecmwf"):
		return "ecmwf_ensemble"
	case strings.Contains(normalized, "icon"):
		return "icon"
	case strings.Contains(normalized, "gem"):
		return "gem"
	default:
		return "ensemble"
	}
}

func forecastModelsFromEnsembleModels(models []string) string {
	var mapped []string
	seen := map[string]bool{}
	for _, model := range models {
		normalized := strings.ToLower(strings.TrimSpace(model))
		if normalized == "" {
			continue
		}
		switch normalized {
		case "gfs_ensemble":
			normalized = "gfs_seamless"
		case "ecmwf_ifs025_ensemble":
			normalized = "ecmwf_ifs025"
		default:
			normalized = strings.ReplaceAll(normalized, "_ensemble", "")
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		mapped = append(mapped, normalized)
	}
	if len(mapped) == 0 {
		return "best_match,gfs_seamless,ecmwf_ifs025"
	}
	return strings.Join(mapped, ",")
}

func floatParam(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func intParam(v int) string {
	return strconv.Itoa(v)
}
