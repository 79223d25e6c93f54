package datastore

import (
	"fmt"
	"math"
	"time"

	"kitebot/internal/market"
)

// Quality is a coarse data-quality tier.
type Quality string

const (
	QualityExcellent  Quality = "excellent"
	QualityGood       Quality = "good"
	QualityAcceptable Quality = "acceptable"
	QualityPoor       Quality = "poor"
	QualityUnusable   Quality = "unusable"
)

// Report summarizes a validation pass. It is recomputed on every load and
// never persisted.
type Report struct {
	Quality      Quality
	TotalRows    int
	ExpectedRows int
	MissingPct   float64
	GapCount     int
	Issues       []string
}

// Validate classifies a candle series against the expected session row count
// and the candle interval. Gaps are consecutive-timestamp deltas above 1.5x
// the interval.
func (s *Store) Validate(cs []market.Candle) Report {
	expected := s.cal.ExpectedRows()
	if len(cs) == 0 {
		return Report{
			Quality:      QualityUnusable,
			ExpectedRows: expected,
			MissingPct:   100,
			Issues:       []string{"no data available"},
		}
	}

	var issues []string
	missingPct := 0.0
	if expected > 0 && len(cs) < expected {
		missingPct = float64(expected-len(cs)) / float64(expected) * 100
	}

	gapCount := 0
	maxDelta := time.Duration(float64(s.cal.Interval()) * 1.5)
	for i := 1; i < len(cs); i++ {
		if cs[i].Timestamp.Sub(cs[i-1].Timestamp) > maxDelta {
			gapCount++
		}
	}

	for i, c := range cs {
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			issues = append(issues, fmt.Sprintf("non-positive price at row %d", i))
			break
		}
	}
	for i, c := range cs {
		if math.IsNaN(c.Open) || math.IsNaN(c.High) || math.IsNaN(c.Low) || math.IsNaN(c.Close) {
			issues = append(issues, fmt.Sprintf("NaN price at row %d", i))
			break
		}
	}
	for i, c := range cs {
		if c.Volume < 0 {
			issues = append(issues, fmt.Sprintf("negative volume at row %d", i))
			break
		}
	}

	var quality Quality
	switch {
	case missingPct <= 5 && gapCount <= 2 && len(issues) == 0:
		quality = QualityExcellent
	case missingPct <= 10 && gapCount <= 5 && len(issues) <= 1:
		quality = QualityGood
	case missingPct <= 20 && gapCount <= 10:
		quality = QualityAcceptable
	case missingPct <= 50:
		quality = QualityPoor
	default:
		quality = QualityUnusable
	}

	return Report{
		Quality:      quality,
		TotalRows:    len(cs),
		ExpectedRows: expected,
		MissingPct:   missingPct,
		GapCount:     gapCount,
		Issues:       issues,
	}
}
