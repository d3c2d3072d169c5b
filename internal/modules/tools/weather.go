// README: Forecast tool backed by the Open-Meteo HTTP API (no key required).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"roam/internal/modules/inventory"
	"roam/internal/types"
)

const (
	WeatherToolName   = "get_weather"
	DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"
)

// LocationResolver maps free text to a canonical served city; *query.LocationResolver implements it.
type LocationResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

type DailyForecast struct {
	Date                 string  `json:"date"`
	HighC                float64 `json:"highC"`
	LowC                 float64 `json:"lowC"`
	PrecipitationPercent int     `json:"precipitationPercent"`
	Summary              string  `json:"summary"`
}

type Forecast struct {
	Location string          `json:"location"`
	Days     []DailyForecast `json:"days"`
}

type WeatherTool struct {
	client   *http.Client
	baseURL  string
	resolver LocationResolver
	centers  inventory.Locator
}

func NewWeatherTool(client *http.Client, baseURL string, resolver LocationResolver, centers inventory.Locator) *WeatherTool {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultWeatherURL
	}
	return &WeatherTool{client: client, baseURL: baseURL, resolver: resolver, centers: centers}
}

func (t *WeatherTool) Contract() Contract {
	return Contract{
		Name:        WeatherToolName,
		Description: "Daily forecast for a served city over the rental dates.",
		Params: []Param{
			{Name: "location", Type: TypeString, Required: true},
			{Name: "startDate", Type: TypeString, Description: "YYYY-MM-DD"},
			{Name: "endDate", Type: TypeString, Description: "YYYY-MM-DD"},
		},
	}
}

type weatherArgs struct {
	Location  string `json:"location"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func (t *WeatherTool) Call(ctx context.Context, args map[string]any, ws *Workspace) (any, error) {
	var a weatherArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	prior := ws.Prior()
	if a.Location == "" {
		a.Location = prior.Location
	}
	if a.StartDate == "" && !prior.StartDate.IsZero() {
		a.StartDate, a.EndDate = prior.StartDate.String(), prior.EndDate.String()
	}
	return t.Forecast(ctx, a.Location, a.StartDate, a.EndDate)
}

type openMeteoResponse struct {
	Daily struct {
		Time        []string  `json:"time"`
		Max         []float64 `json:"temperature_2m_max"`
		Min         []float64 `json:"temperature_2m_min"`
		Precip      []int     `json:"precipitation_probability_max"`
		WeatherCode []int     `json:"weather_code"`
	} `json:"daily"`
}

// Forecast fetches daily conditions; empty dates mean the provider's default window.
func (t *WeatherTool) Forecast(ctx context.Context, location, start, end string) (Forecast, error) {
	canonical, err := t.resolver.Resolve(ctx, location)
	if err != nil {
		return Forecast{}, err
	}
	lat, lng, ok := t.centers.Center(canonical)
	if !ok {
		return Forecast{}, fmt.Errorf("no coordinates for %s", canonical)
	}

	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	v.Set("longitude", strconv.FormatFloat(lng, 'f', 4, 64))
	v.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max,weather_code")
	v.Set("timezone", "auto")
	if start != "" {
		if _, err := types.ParseDate(start); err != nil {
			return Forecast{}, fmt.Errorf("%w: %v", ErrBadArguments, err)
		}
		if end == "" {
			end = start
		}
		v.Set("start_date", start)
		v.Set("end_date", end)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+v.Encode(), nil)
	if err != nil {
		return Forecast{}, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Forecast{}, fmt.Errorf("weather request: status %d", resp.StatusCode)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Forecast{}, fmt.Errorf("decode weather: %w", err)
	}
	d := body.Daily
	out := Forecast{Location: canonical}
	for i, day := range d.Time {
		f := DailyForecast{Date: day}
		if i < len(d.Max) {
			f.HighC = d.Max[i]
		}
		if i < len(d.Min) {
			f.LowC = d.Min[i]
		}
		if i < len(d.Precip) {
			f.PrecipitationPercent = d.Precip[i]
		}
		if i < len(d.WeatherCode) {
			f.Summary = describeWeatherCode(d.WeatherCode[i])
		}
		out.Days = append(out.Days, f)
	}
	return out, nil
}

// describeWeatherCode maps WMO weather interpretation codes.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "showers"
	case code >= 85 && code <= 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorms"
	}
	return "unknown"
}
