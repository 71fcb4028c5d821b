// Package report renders cached forecast summaries and station aggregates as
// plain-text tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lox/rainwatch/internal/models"
)

// TimeFormat is used for every timestamp in rendered tables.
const TimeFormat = "2006-01-02 15:04:05"

var headers = []string{"Location", "Precipitation (mm)", "Start of rain", "Hours with rain"}

// Row is one line of the forecast table.
type Row struct {
	Name          string
	Amount        string
	RainStarts    string
	HoursWithRain int
}

// Rows converts summaries into table rows with times shown in loc.
func Rows(places []models.PlaceForecast, loc *time.Location) []Row {
	rows := make([]Row, 0, len(places))
	for _, pf := range places {
		row := Row{
			Name:          pf.Name,
			Amount:        fmt.Sprintf("%4.2f", pf.Summary.Amount),
			HoursWithRain: len(pf.Summary.RainHours),
		}
		if pf.Summary.Starts != nil {
			row.RainStarts = pf.Summary.Starts.In(loc).Format(TimeFormat)
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteForecasts renders the forecast table with its caption.
func WriteForecasts(w io.Writer, updated time.Time, places []models.PlaceForecast, loc *time.Location) error {
	caption := "Precipitation next 24 hours"
	if !updated.IsZero() {
		caption += fmt.Sprintf(" (updated: %s)", updated.In(loc).Format(TimeFormat))
	}
	if _, err := fmt.Fprintln(w, caption); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range Rows(places, loc) {
		start := r.RainStarts
		if start == "" {
			start = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Name, r.Amount, start, r.HoursWithRain)
	}
	return tw.Flush()
}

// WriteStations renders observed daily precipitation per station, one
// column per reference date, newest first.
func WriteStations(w io.Writer, aggs map[string]*models.StationAggregate) error {
	dateSet := make(map[string]struct{})
	ids := make([]string, 0, len(aggs))
	for id, agg := range aggs {
		ids = append(ids, id)
		for d := range agg.Values {
			dateSet[d] = struct{}{}
		}
	}
	sort.Strings(ids)
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(append([]string{"Station", "Name"}, dates...), "\t"))
	for _, id := range ids {
		agg := aggs[id]
		cols := []string{id, agg.Name}
		for _, d := range dates {
			if v, ok := agg.Values[d]; ok {
				cols = append(cols, fmt.Sprintf("%4.2f", v))
			} else {
				cols = append(cols, "-")
			}
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	return tw.Flush()
}
