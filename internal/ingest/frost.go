package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lox/rainwatch/internal/httputil"
	"github.com/lox/rainwatch/internal/metrics"
	"github.com/lox/rainwatch/internal/models"
	"github.com/lox/rainwatch/internal/observation"
)

const (
	DefaultFrostURL = "https://frost.met.no"

	frostSourcesEndpoint      = "sources/v0.jsonld"
	frostObservationsEndpoint = "observations/v0.jsonld"

	// PrecipitationElement is the Frost element for daily precipitation sums.
	PrecipitationElement = "sum(precipitation_amount P1D)"
)

// FrostClient talks to the Frost observation API.
type FrostClient struct {
	baseURL string
	logger  *slog.Logger
	fetcher *fetcher
}

// NewFrostClient authenticates with clientID as the basic auth user and an
// empty password.
func NewFrostClient(clientID, baseURL string, client *http.Client) *FrostClient {
	if baseURL == "" {
		baseURL = DefaultFrostURL
	}
	return &FrostClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default().With("component", "frost"),
		fetcher: &fetcher{
			source:    "frost",
			client:    client,
			retryable: frostRetryable,
			authorize: func(req *http.Request) {
				req.SetBasicAuth(clientID, "")
			},
		},
	}
}

// frostRetryable treats auth failures as permanent: Frost answers 401 and
// 403 for a bad client id, not for throttling.
func frostRetryable(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return false
	}
	return httputil.Retryable(status)
}

type frostErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// frostError improves a status error with the message Frost puts in its
// JSON error document.
func frostError(err error) error {
	var serr *httputil.StatusError
	if !errors.As(err, &serr) {
		return err
	}
	var body frostErrorBody
	if json.Unmarshal([]byte(serr.Body), &body) != nil || body.Error.Message == "" {
		return err
	}
	return fmt.Errorf("frost: %s (%s): %w", body.Error.Message, body.Error.Reason, serr)
}

// FetchStations downloads the full source registry.
func (c *FrostClient) FetchStations(ctx context.Context) ([]models.Station, []byte, error) {
	res, err := c.fetcher.get(ctx, frostSourcesEndpoint, c.baseURL+"/"+frostSourcesEndpoint)
	if err != nil {
		return nil, nil, frostError(err)
	}
	stations, err := ParseFrostSources(res.Body)
	if err != nil {
		return nil, res.Body, err
	}
	return stations, res.Body, nil
}

// FetchObservations downloads daily precipitation for the given stations on
// refDate (YYYY-MM-DD). A day without data yields an empty map.
func (c *FrostClient) FetchObservations(ctx context.Context, ids []string, refDate string) (map[string]models.ObservationSeries, []byte, error) {
	params := url.Values{}
	params.Set("sources", strings.Join(ids, ","))
	params.Set("elements", PrecipitationElement)
	params.Set("referencetime", refDate)

	res, err := c.fetcher.get(ctx, frostObservationsEndpoint, c.baseURL+"/"+frostObservationsEndpoint+"?"+params.Encode())
	if err != nil {
		var serr *httputil.StatusError
		if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
			return map[string]models.ObservationSeries{}, nil, nil
		}
		return nil, nil, frostError(err)
	}
	series, rejected, err := ParseFrostObservations(res.Body, refDate)
	if err != nil {
		return nil, res.Body, err
	}
	if rejected > 0 {
		c.logger.Warn("readings rejected", "ref_date", refDate, "rejected", rejected)
		metrics.ParseRejects.WithLabelValues("frost").Add(float64(rejected))
	}
	return series, res.Body, nil
}

type frostSourcesResponse struct {
	Data []frostSource `json:"data"`
}

type frostSource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Geometry *struct {
		Coordinates []json.Number `json:"coordinates"`
	} `json:"geometry"`
	Masl *json.Number `json:"masl"`
}

// ParseFrostSources extracts stations from a sources document. Sources
// without a geometry are skipped; a missing elevation defaults to 0.
func ParseFrostSources(body []byte) ([]models.Station, error) {
	var resp frostSourcesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}

	stations := make([]models.Station, 0, len(resp.Data))
	for _, src := range resp.Data {
		if src.Geometry == nil || len(src.Geometry.Coordinates) < 2 {
			continue
		}
		lon, err := src.Geometry.Coordinates[0].Float64()
		if err != nil {
			continue
		}
		lat, err := src.Geometry.Coordinates[1].Float64()
		if err != nil {
			continue
		}
		var masl float64
		if src.Masl != nil {
			masl, _ = src.Masl.Float64()
		}
		stations = append(stations, models.Station{
			ID:    src.ID,
			Name:  src.Name,
			Point: models.GeoPoint{Lon: lon, Lat: lat, Elevation: masl},
		})
	}
	return stations, nil
}

type frostObservationsResponse struct {
	Data []struct {
		SourceID     string `json:"sourceId"`
		Observations []struct {
			ElementID      string  `json:"elementId"`
			Value          float64 `json:"value"`
			TimeOffset     string  `json:"timeOffset"`
			TimeResolution string  `json:"timeResolution"`
		} `json:"observations"`
	} `json:"data"`
}

// ParseFrostObservations extracts per-station precipitation series from an
// observations document. Only sensor 0 of each source is used. Readings
// failing validation are dropped and counted in the second return value.
func ParseFrostObservations(body []byte, refDate string) (map[string]models.ObservationSeries, int, error) {
	var resp frostObservationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("unmarshal observations: %w", err)
	}

	rejected := 0
	out := make(map[string]models.ObservationSeries)
	for _, item := range resp.Data {
		stationID, sensor, hasSensor := strings.Cut(item.SourceID, ":")
		if hasSensor {
			if n, err := strconv.Atoi(sensor); err != nil || n != 0 {
				continue
			}
		}

		series := models.ObservationSeries{StationID: stationID, RefDate: refDate}
		for _, obs := range item.Observations {
			if obs.TimeResolution != observation.TargetResolution {
				continue
			}
			if !strings.Contains(obs.ElementID, "precipitation") {
				continue
			}
			r := models.Reading{Offset: obs.TimeOffset, Value: obs.Value}
			if flags := ValidateReading(r); len(flags) > 0 {
				rejected++
				continue
			}
			series.Readings = append(series.Readings, r)
		}
		out[stationID] = series
	}
	return out, rejected, nil
}
