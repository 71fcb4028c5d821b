package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lox/rainwatch/internal/models"
)

const DefaultMetnoURL = "https://api.met.no/weatherapi/locationforecast/2.0/classic"

// MetnoClient downloads classic XML location forecasts over HTTP.
type MetnoClient struct {
	baseURL string
	fetcher *fetcher
}

func NewMetnoClient(baseURL string, client *http.Client) *MetnoClient {
	if baseURL == "" {
		baseURL = DefaultMetnoURL
	}
	return &MetnoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: &fetcher{source: "metno", client: client},
	}
}

func (c *MetnoClient) forecastURL(p models.GeoPoint) string {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(p.Lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(p.Lon, 'f', 4, 64))
	params.Set("altitude", strconv.Itoa(int(p.Elevation)))
	return c.baseURL + "?" + params.Encode()
}

// FetchForecast downloads and decodes the forecast for a place.
func (c *MetnoClient) FetchForecast(ctx context.Context, place models.Place) ([]models.ForecastPoint, []byte, error) {
	res, err := c.fetcher.get(ctx, "locationforecast", c.forecastURL(place.Point))
	if err != nil {
		return nil, nil, err
	}
	points, err := decodePlaceForecast("metno", place, res.Body)
	return points, res.Body, err
}
