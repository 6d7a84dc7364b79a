// Package feeds fetches best-effort driver context (weather, air quality)
// with a Redis TTL cache keyed by rounded coordinates. A feed failure is
// never fatal: callers receive whatever subset resolved.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/driveline/driveline/pkg/config"
	"github.com/driveline/driveline/pkg/errors"
	"github.com/driveline/driveline/pkg/logging"
	"github.com/driveline/driveline/pkg/metrics"
)

// Weather is the current-conditions slice of the weather feed
type Weather struct {
	TemperatureC  float64 `json:"temperature_c"`
	Precipitation float64 `json:"precipitation"`
	WindSpeedKmh  float64 `json:"wind_speed_kmh"`
}

// AirQuality is the current air-quality reading
type AirQuality struct {
	AQI  float64 `json:"aqi"`
	PM25 float64 `json:"pm2_5"`
}

// Report bundles whatever feeds resolved for a snapshot
type Report struct {
	Weather    *Weather    `json:"weather,omitempty"`
	AirQuality *AirQuality `json:"air_quality,omitempty"`
}

// Empty reports whether no feed resolved
func (r *Report) Empty() bool {
	return r.Weather == nil && r.AirQuality == nil
}

// Fetcher retrieves contextual feeds with caching
type Fetcher struct {
	cfg     config.FeedsConfig
	http    *http.Client
	cache   Cache
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewFetcher creates a feed fetcher; cache may be nil to disable caching
func NewFetcher(cfg config.FeedsConfig, cache Cache, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		metrics: m,
		logger:  logging.GetLogger().Component("feeds"),
	}
}

// Fetch resolves weather and air quality for a coordinate concurrently.
// It returns an error only when every feed failed.
func (f *Fetcher) Fetch(ctx context.Context, lat, lng float64) (*Report, error) {
	report := &Report{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	var weatherErr, airErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		w, err := f.fetchWeather(ctx, lat, lng)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			weatherErr = err
			return
		}
		report.Weather = w
	}()
	go func() {
		defer wg.Done()
		aq, err := f.fetchAirQuality(ctx, lat, lng)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			airErr = err
			return
		}
		report.AirQuality = aq
	}()
	wg.Wait()

	if weatherErr != nil {
		f.logger.Warn("Weather feed failed", "error", weatherErr.Error())
	}
	if airErr != nil {
		f.logger.Warn("Air quality feed failed", "error", airErr.Error())
	}
	if report.Empty() {
		return nil, errors.NewExternalError("feeds", "all contextual feeds failed")
	}
	return report, nil
}

func (f *Fetcher) fetchWeather(ctx context.Context, lat, lng float64) (*Weather, error) {
	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=temperature_2m,precipitation,wind_speed_10m",
		f.cfg.WeatherEndpoint, lat, lng)

	var payload struct {
		Current struct {
			Temperature   float64 `json:"temperature_2m"`
			Precipitation float64 `json:"precipitation"`
			WindSpeed     float64 `json:"wind_speed_10m"`
		} `json:"current"`
	}
	if err := f.getJSON(ctx, "weather", cacheKey("weather", lat, lng), url, &payload); err != nil {
		return nil, err
	}

	return &Weather{
		TemperatureC:  payload.Current.Temperature,
		Precipitation: payload.Current.Precipitation,
		WindSpeedKmh:  payload.Current.WindSpeed,
	}, nil
}

func (f *Fetcher) fetchAirQuality(ctx context.Context, lat, lng float64) (*AirQuality, error) {
	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=us_aqi,pm2_5",
		f.cfg.AirQualityEndpoint, lat, lng)

	var payload struct {
		Current struct {
			AQI  float64 `json:"us_aqi"`
			PM25 float64 `json:"pm2_5"`
		} `json:"current"`
	}
	if err := f.getJSON(ctx, "air_quality", cacheKey("air_quality", lat, lng), url, &payload); err != nil {
		return nil, err
	}

	return &AirQuality{AQI: payload.Current.AQI, PM25: payload.Current.PM25}, nil
}

// getJSON resolves a feed URL through the cache
func (f *Fetcher) getJSON(ctx context.Context, feed, key, url string, out interface{}) error {
	if f.cache != nil {
		if cached, ok := f.cache.Get(ctx, key); ok {
			if f.metrics != nil {
				f.metrics.RecordFeedCache(feed, "hit")
			}
			return json.Unmarshal(cached, out)
		}
		if f.metrics != nil {
			f.metrics.RecordFeedCache(feed, "miss")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewExternalError(feed, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return err
	}

	if f.cache != nil {
		f.cache.Set(ctx, key, body, f.cfg.CacheTTL)
	}
	return nil
}

// cacheKey rounds coordinates to ~100m so nearby requests share entries
func cacheKey(feed string, lat, lng float64) string {
	return fmt.Sprintf("feeds:%s:%.3f:%.3f", feed, lat, lng)
}
