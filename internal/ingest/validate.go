package ingest

import (
	"regexp"

	"github.com/lox/rainwatch/internal/models"
)

const (
	FlagPrecipNegative  = "precip_negative"
	FlagPrecipUnlikely  = "precip_unlikely"
	FlagOffsetMalformed = "offset_malformed"
)

// maxDailyPrecip is well above any recorded daily total.
const maxDailyPrecip = 2000.0

var offsetPattern = regexp.MustCompile(`^P(T(\d+H)?(\d+M)?(\d+S)?|\d+D)$`)

// ValidateReading returns quality flags for an observation reading.
func ValidateReading(r models.Reading) []string {
	var flags []string
	if r.Value < 0 {
		flags = append(flags, FlagPrecipNegative)
	}
	if r.Value > maxDailyPrecip {
		flags = append(flags, FlagPrecipUnlikely)
	}
	if !offsetPattern.MatchString(r.Offset) {
		flags = append(flags, FlagOffsetMalformed)
	}
	return flags
}
