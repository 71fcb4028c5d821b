package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/lox/rainwatch/internal/metrics"
	"github.com/lox/rainwatch/internal/models"
)

// metnoTimeFormat is the timestamp layout of the classic forecast format.
const metnoTimeFormat = "2006-01-02T15:04:05Z"

type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []xmlElement `xml:",any"`
}

func (e xmlElement) attrMap() map[string]string {
	m := make(map[string]string, len(e.Attrs))
	for _, a := range e.Attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

type xmlWeatherdata struct {
	XMLName xml.Name `xml:"weatherdata"`
	Meta    struct {
		Models []xmlElement `xml:"model"`
	} `xml:"meta"`
	Product struct {
		Times []xmlElement `xml:"time"`
	} `xml:"product"`
}

// ForecastDocument is a decoded classic locationforecast document.
type ForecastDocument struct {
	Models []models.Model
	Points []models.ForecastPoint
	// ParseErrors counts elements whose values could not be parsed. Those
	// elements are kept as models.Opaque.
	ParseErrors int
}

// DecodeForecast reads a classic XML locationforecast. Every element below a
// time element becomes one attribute of that point.
func DecodeForecast(r io.Reader) (*ForecastDocument, error) {
	var raw xmlWeatherdata
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode forecast xml: %w", err)
	}

	doc := &ForecastDocument{}
	for _, m := range raw.Meta.Models {
		attr, err := decodeAttribute("model", m.attrMap())
		if err != nil {
			doc.ParseErrors++
			continue
		}
		doc.Models = append(doc.Models, attr.(models.Model))
	}

	for _, t := range raw.Product.Times {
		attrs := t.attrMap()
		from, err := time.Parse(metnoTimeFormat, attrs["from"])
		if err != nil {
			doc.ParseErrors++
			continue
		}
		to, err := time.Parse(metnoTimeFormat, attrs["to"])
		if err != nil {
			doc.ParseErrors++
			continue
		}

		p := models.ForecastPoint{
			From: from,
			To:   to,
			Attrs: map[models.Category]models.Attribute{
				models.CategoryTime: models.TimeSpan{From: from, To: to, DataType: attrs["datatype"]},
			},
		}
		doc.ParseErrors += collect(p.Attrs, t.Children)
		doc.Points = append(doc.Points, p)
	}
	return doc, nil
}

// decodePlaceForecast decodes body for place, logging and counting elements
// that could not be parsed.
func decodePlaceForecast(source string, place models.Place, body []byte) ([]models.ForecastPoint, error) {
	doc, err := DecodeForecast(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", place.Name, err)
	}
	if doc.ParseErrors > 0 {
		slog.Warn("forecast elements unparsed", "component", source, "place", place.Name, "errors", doc.ParseErrors)
		metrics.ParseRejects.WithLabelValues(source).Add(float64(doc.ParseErrors))
	}
	return doc.Points, nil
}

// collect decodes elements and their descendants into dst, returning the
// number of parse failures.
func collect(dst map[models.Category]models.Attribute, elems []xmlElement) int {
	failures := 0
	for _, e := range elems {
		tag := e.XMLName.Local
		attrs := e.attrMap()
		attr, err := decodeAttribute(tag, attrs)
		if err != nil {
			failures++
			attr = models.Opaque{Tag: tag, Attrs: attrs}
		}
		dst[attr.Category()] = attr
		failures += collect(dst, e.Children)
	}
	return failures
}

// decodeAttribute maps an element to its typed attribute. Unknown tags are
// returned as models.Opaque.
func decodeAttribute(tag string, attrs map[string]string) (models.Attribute, error) {
	p := attrParser{attrs: attrs}
	var attr models.Attribute

	switch c := models.Category(tag); c {
	case models.CategoryTemperature, models.CategoryMinTemperature, models.CategoryMaxTemperature, models.CategoryDewpointTemperature:
		attr = models.Temperature{Kind: c, ID: attrs["id"], Unit: attrs["unit"], Value: p.float("value")}
	case models.CategoryPrecipitation:
		attr = models.Precipitation{
			Unit:        attrs["unit"],
			Value:       p.float("value"),
			MinValue:    p.optFloat("minvalue"),
			MaxValue:    p.optFloat("maxvalue"),
			Probability: p.optFloat("probability"),
		}
	case models.CategoryWindDirection:
		attr = models.WindDirection{ID: attrs["id"], Deg: p.float("deg"), Name: attrs["name"]}
	case models.CategoryWindSpeed, models.CategoryWindGust:
		attr = models.WindSpeed{Kind: c, ID: attrs["id"], MPS: p.float("mps"), Beaufort: p.optFloat("beaufort"), Name: attrs["name"]}
	case models.CategoryHumidity, models.CategoryPressure, models.CategoryCloudiness, models.CategoryFog,
		models.CategoryLowClouds, models.CategoryMediumClouds, models.CategoryHighClouds:
		attr = models.Percent{Kind: c, ID: attrs["id"], Unit: attrs["unit"], Value: p.optFloat("value"), Percent: p.optFloat("percent")}
	case models.CategoryTemperatureProbability, models.CategoryWindProbability, models.CategorySymbolProbability:
		attr = models.Probability{Kind: c, Unit: attrs["unit"], Value: p.float("value")}
	case models.CategorySymbol:
		attr = models.Symbol{ID: attrs["id"], Number: p.float("number"), Code: attrs["code"]}
	case models.CategoryLocation:
		attr = models.Location{Name: attrs["name"], Altitude: p.float("altitude"), Lat: p.float("latitude"), Lon: p.float("longitude")}
	case models.CategoryModel:
		attr = models.Model{
			Name:    attrs["name"],
			Termin:  p.time("termin"),
			RunEnd:  p.time("runended"),
			NextRun: p.time("nextrun"),
			From:    p.time("from"),
			To:      p.time("to"),
		}
	default:
		return models.Opaque{Tag: tag, Attrs: attrs}, nil
	}

	if p.err != nil {
		return nil, fmt.Errorf("%s: %w", tag, p.err)
	}
	return attr, nil
}

// attrParser converts attribute strings, keeping the first error.
type attrParser struct {
	attrs map[string]string
	err   error
}

func (p *attrParser) float(name string) float64 {
	v, ok := p.attrs[name]
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("attribute %s: %w", name, err)
	}
	return f
}

func (p *attrParser) optFloat(name string) *float64 {
	if _, ok := p.attrs[name]; !ok {
		return nil
	}
	f := p.float(name)
	return &f
}

func (p *attrParser) time(name string) time.Time {
	v, ok := p.attrs[name]
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(metnoTimeFormat, v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("attribute %s: %w", name, err)
	}
	return t
}
