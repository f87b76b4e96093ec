package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"krishimitra/internal/config"
	"krishimitra/internal/metrics"
	"krishimitra/internal/utils"
)

var (
	ErrEmptyCity     = errors.New("city is required")
	ErrNotConfigured = errors.New("weather service is not configured")
	ErrUnavailable   = errors.New("weather service is unavailable, please try again later")
)

// CityNotFoundError is returned when the remote service rejects the lookup.
// Message is the remote's own explanation.
type CityNotFoundError struct {
	City    string
	Status  int
	Message string
}

func (e *CityNotFoundError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("city %q not found", e.City)
	}
	return e.Message
}

// Report is the reshaped current weather for one city.
type Report struct {
	CityName    string  `json:"city_name"`
	Temp        float64 `json:"temp"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	TempMax     float64 `json:"temp_max"`
	TempMin     float64 `json:"temp_min"`
	WindSpeed   float64 `json:"wind_speed"`
	Humidity    int     `json:"humidity"`
}

// upstream is the subset of the OpenWeatherMap current weather payload we read.
type upstream struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		TempMin  float64 `json:"temp_min"`
		TempMax  float64 `json:"temp_max"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	lang       string
}

// NewClient builds a proxy from the weather settings in cfg. httpClient may
// be nil.
func NewClient(cfg config.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.WeatherTimeout()}
	}
	lang := cfg.WeatherLanguage
	if lang == "" {
		lang = "en"
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.WeatherBaseURL, "/"),
		apiKey:     cfg.WeatherAPIKey,
		lang:       lang,
	}
}

// Fetch looks up current weather for city. Errors are ErrEmptyCity,
// ErrNotConfigured, *CityNotFoundError or ErrUnavailable; transport details
// are logged, not returned.
func (c *Client) Fetch(ctx context.Context, city string) (*Report, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, ErrEmptyCity
	}
	if c.apiKey == "" {
		metrics.WeatherLookups.WithLabelValues("not_configured").Inc()
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("lang", c.lang)
	endpoint := c.baseURL + "/data/2.5/weather?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logrus.Errorf("build weather request: %v", err)
		metrics.WeatherLookups.WithLabelValues("unavailable").Inc()
		return nil, ErrUnavailable
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logrus.WithField("city", city).Errorf("weather request failed: %s", redact(err.Error(), c.apiKey))
		metrics.WeatherLookups.WithLabelValues("unavailable").Inc()
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logrus.WithField("city", city).Errorf("read weather response: %v", err)
		metrics.WeatherLookups.WithLabelValues("unavailable").Inc()
		return nil, ErrUnavailable
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &e)
		logrus.WithFields(logrus.Fields{"city": city, "status": resp.StatusCode}).Warnf("weather lookup rejected: %s", utils.Truncate(string(body), 200))
		metrics.WeatherLookups.WithLabelValues("not_found").Inc()
		return nil, &CityNotFoundError{City: city, Status: resp.StatusCode, Message: e.Message}
	}

	var u upstream
	if err := json.Unmarshal(body, &u); err != nil {
		logrus.WithField("city", city).Errorf("decode weather response: %v", err)
		metrics.WeatherLookups.WithLabelValues("unavailable").Inc()
		return nil, ErrUnavailable
	}
	r := &Report{
		CityName:  u.Name,
		Temp:      u.Main.Temp,
		TempMax:   u.Main.TempMax,
		TempMin:   u.Main.TempMin,
		WindSpeed: u.Wind.Speed,
		Humidity:  u.Main.Humidity,
	}
	if r.CityName == "" {
		r.CityName = city
	}
	if len(u.Weather) > 0 {
		r.Description = utils.Capitalize(u.Weather[0].Description)
		r.Icon = u.Weather[0].Icon
	}
	metrics.WeatherLookups.WithLabelValues("ok").Inc()
	return r, nil
}

// redact strips the API key from url-bearing transport errors.
func redact(s, key string) string {
	if key == "" {
		return s
	}
	return strings.ReplaceAll(s, key, "REDACTED")
}
