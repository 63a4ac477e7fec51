package analyzers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	SensorMaxScore     = 30.0
	SensorMetricPoints = 10.0
)

// SensorMetrics are the averaged soil readings of one upload.
type SensorMetrics struct {
	PH       *float64 `json:"ph"`
	Moisture *float64 `json:"moisture"`
	Nitrogen *float64 `json:"nitrogen"`
}

// SensorReport is the analyzer output for one upload. TrustScore is nil
// when the upload carried no usable numbers.
type SensorReport struct {
	TrustScore    *float64      `json:"trustScore"`
	Metrics       SensorMetrics `json:"metrics"`
	Address       *string       `json:"address"`
	Lat           *float64      `json:"lat"`
	Lon           *float64      `json:"lon"`
	RainfallTotal *float64      `json:"rainfallTotal,omitempty"`
	ReportID      string        `json:"reportId,omitempty"`
}

// Geocoder resolves a free-text address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lon float64, err error)
}

type SensorAnalyzer struct {
	geocoder Geocoder
}

// NewSensorAnalyzer returns an analyzer. geocoder may be nil.
func NewSensorAnalyzer(geocoder Geocoder) *SensorAnalyzer {
	return &SensorAnalyzer{geocoder: geocoder}
}

type sensorParse struct {
	metrics  SensorMetrics
	address  *string
	lat, lon *float64
	rainfall []float64
	scores   []float64
}

func (a *SensorAnalyzer) Analyze(ctx context.Context, filename string, data []byte) (*SensorReport, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	var p *sensorParse
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		p, err = parseSensorJSON(data)
	case ".txt":
		if p, err = parseSensorJSON(data); err != nil {
			p, err = parseSensorText(string(data)), nil
		}
	case ".csv":
		p, err = parseSensorCSV(data)
	case ".pdf":
		p = parseSensorText(pdfText(data))
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		p, err = parseSensorSheet(data)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	if (p.lat == nil || p.lon == nil) && p.address != nil && a.geocoder != nil {
		if lat, lon, gerr := a.geocoder.Geocode(ctx, *p.address); gerr == nil {
			p.lat, p.lon = &lat, &lon
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &SensorReport{
		Metrics: p.metrics,
		Address: p.address,
		Lat:     p.lat,
		Lon:     p.lon,
	}
	if len(p.rainfall) > 0 {
		total := 0.0
		for _, v := range p.rainfall {
			total += v
		}
		total = roundTo(total, 1)
		r.RainfallTotal = &total
	}
	if score, ok := sensorScore(p.metrics, p.scores); ok {
		r.TrustScore = &score
	}
	return r, nil
}

// sensorScore awards 10 per metric in range. With none in range it falls
// back to three times the average normalized reading.
func sensorScore(m SensorMetrics, normalized []float64) (float64, bool) {
	points := 0.0
	if v := m.PH; v != nil && *v >= 6.0 && *v <= 7.5 {
		points += SensorMetricPoints
	}
	if v := m.Moisture; v != nil && *v >= 20 && *v <= 60 {
		points += SensorMetricPoints
	}
	if v := m.Nitrogen; v != nil && ((*v >= 40 && *v <= 80) || (*v >= 240 && *v <= 480)) {
		points += SensorMetricPoints
	}
	if points > 0 {
		return points, true
	}
	if len(normalized) == 0 {
		return 0, m.PH != nil || m.Moisture != nil || m.Nitrogen != nil
	}
	sum := 0.0
	for _, v := range normalized {
		sum += v
	}
	return math.Max(0, math.Min(SensorMaxScore, roundTo(sum/float64(len(normalized)), 1)*3)), true
}

// normalizeMetric maps a raw reading onto a 0-10 health scale by key.
func normalizeMetric(key string, v float64) float64 {
	k := strings.ToLower(key)
	clamp := func(x float64) float64 { return math.Max(0, math.Min(10, x)) }
	switch {
	case strings.Contains(k, "soil") && strings.Contains(k, "moist"):
		return clamp(v / 10)
	case strings.Contains(k, "ph"):
		return clamp(10 - math.Abs(v-6.5)*(10/6.5))
	case strings.Contains(k, "humid"):
		return clamp(v / 10)
	case strings.Contains(k, "temp"):
		return clamp((50 - math.Abs(v-25)) / 5)
	case strings.Contains(k, "rain"), strings.Contains(k, "precip"):
		return clamp(10 - math.Max(0, v-20)*0.5)
	case strings.Contains(k, "wind"):
		return clamp(10 - v*0.5)
	default:
		return clamp(v / 10)
	}
}

func isRainKey(k string) bool {
	return strings.Contains(k, "rain") || strings.Contains(k, "precip")
}

func isMoistureKey(k string) bool {
	return strings.Contains(k, "moist") || strings.Contains(k, "humidity")
}

func isNitrogenKey(k string) bool {
	return strings.Contains(k, "nitrogen") || k == "n"
}

func parseSensorJSON(data []byte) (*sensorParse, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	p := &sensorParse{}
	var ph, moist, nitro []float64
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch x := v.(type) {
		case map[string]interface{}:
			for k, child := range x {
				n, ok := child.(float64)
				if !ok {
					walk(child)
					continue
				}
				lk := strings.ToLower(k)
				p.scores = append(p.scores, normalizeMetric(k, n))
				if strings.Contains(lk, "ph") {
					ph = append(ph, n)
				}
				if isMoistureKey(lk) {
					moist = append(moist, n)
				}
				if isNitrogenKey(lk) {
					nitro = append(nitro, n)
				}
				if isRainKey(lk) {
					p.rainfall = append(p.rainfall, n)
				}
			}
		case []interface{}:
			for _, child := range x {
				if n, ok := child.(float64); ok {
					p.scores = append(p.scores, normalizeMetric("", n))
					continue
				}
				walk(child)
			}
		}
	}
	walk(doc)

	p.metrics = SensorMetrics{PH: average(ph), Moisture: average(moist), Nitrogen: average(nitro)}
	if obj, ok := doc.(map[string]interface{}); ok {
		p.address, p.lat, p.lon = extractLocation(obj)
	}
	return p, nil
}

// extractLocation reads address and coordinates from the top level of a
// report, including a nested location object.
func extractLocation(obj map[string]interface{}) (*string, *float64, *float64) {
	first := func(m map[string]interface{}, keys ...string) interface{} {
		for _, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				return v
			}
		}
		return nil
	}

	var addr *string
	lat := toFloat(first(obj, "lat", "latitude"))
	lon := toFloat(first(obj, "lon", "lng", "longitude"))
	switch raw := first(obj, "address", "location", "field_address").(type) {
	case string:
		addr = &raw
	case map[string]interface{}:
		if s, ok := first(raw, "place", "name", "address").(string); ok {
			addr = &s
		} else if b, err := json.Marshal(raw); err == nil {
			s := string(b)
			addr = &s
		}
		if lat == nil {
			lat = toFloat(raw["latitude"])
		}
		if lon == nil {
			lon = toFloat(raw["longitude"])
		}
	}
	return addr, lat, lon
}

func toFloat(v interface{}) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return &f
		}
	}
	return nil
}

func parseSensorCSV(data []byte) (*sensorParse, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to parse file: %w", io.EOF)
	}
	return sensorTable(rows[0], rows[1:]), nil
}

func parseSensorSheet(data []byte) (*sensorParse, error) {
	rows, err := sheetRows(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	if len(rows) == 0 {
		return &sensorParse{}, nil
	}
	return sensorTable(rows[0], rows[1:]), nil
}

// sensorTable reads numeric cells under their column headers. The first
// value of a metric column wins.
func sensorTable(header []string, rows [][]string) *sensorParse {
	p := &sensorParse{}
	for _, rec := range rows {
		for i, raw := range rec {
			if i >= len(header) {
				break
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				continue
			}
			k := strings.ToLower(strings.TrimSpace(header[i]))
			p.scores = append(p.scores, normalizeMetric(k, v))
			if isRainKey(k) {
				p.rainfall = append(p.rainfall, v)
			}
			if p.metrics.PH == nil && strings.Contains(k, "ph") {
				p.metrics.PH = ptr(v)
			}
			if p.metrics.Moisture == nil && isMoistureKey(k) {
				p.metrics.Moisture = ptr(v)
			}
			if p.metrics.Nitrogen == nil && isNitrogenKey(k) {
				p.metrics.Nitrogen = ptr(v)
			}
		}
	}
	return p
}

var (
	numberPattern   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	phPattern       = regexp.MustCompile(`(?i)ph[:\s=]*(-?\d+(?:\.\d+)?)|(-?\d+(?:\.\d+)?)\s*ph`)
	moisturePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%|moisture[:\s=]*(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)\s*moisture`)
	nitrogenPattern = regexp.MustCompile(`(?i)nitrogen[:\s=]*(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)\s*(?:ppm|mg/kg|mg kg)|n[:\s=]*(\d+(?:\.\d+)?)`)
	rainPattern     = regexp.MustCompile(`(?i)rainfall[:\s=]*(\d+(?:\.\d+)?)|precipitation[:\s=]*(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)\s*mm`)
)

// parseSensorText reads "key: value" style report lines.
func parseSensorText(text string) *sensorParse {
	p := &sensorParse{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		if p.metrics.PH == nil && (strings.Contains(lower, "ph") || strings.Contains(lower, "p.h")) {
			if v, ok := lineValue(phPattern, line); ok {
				p.metrics.PH = ptr(v)
				p.scores = append(p.scores, normalizeMetric("ph", v))
			}
		}
		if p.metrics.Moisture == nil && (isMoistureKey(lower) || strings.Contains(line, "%")) {
			if v, ok := lineValue(moisturePattern, line); ok {
				p.metrics.Moisture = ptr(v)
				p.scores = append(p.scores, normalizeMetric("soil moisture", v))
			}
		}
		if p.metrics.Nitrogen == nil && (strings.Contains(lower, "nitrogen") || strings.Contains(lower, "n ") ||
			strings.Contains(lower, " ppm") || strings.Contains(lower, "mg/kg")) {
			if v, ok := lineValue(nitrogenPattern, line); ok {
				p.metrics.Nitrogen = ptr(v)
				p.scores = append(p.scores, normalizeMetric("nitrogen", v))
			}
		}
		if p.address == nil && (strings.Contains(lower, "address") || strings.Contains(lower, "location")) {
			addr := line
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
				addr = strings.TrimSpace(parts[1])
			}
			p.address = &addr
		}
		if isRainKey(lower) {
			if v, ok := lineValue(rainPattern, line); ok {
				p.rainfall = append(p.rainfall, v)
			}
		}
	}
	return p
}

// lineValue returns the first captured group of pattern, or the first
// number on the line when the pattern does not match.
func lineValue(pattern *regexp.Regexp, line string) (float64, bool) {
	if m := pattern.FindStringSubmatch(line); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				if f, err := strconv.ParseFloat(g, 64); err == nil {
					return f, true
				}
			}
		}
	}
	if s := numberPattern.FindString(line); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func average(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	avg := sum / float64(len(vals))
	return &avg
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ptr(v float64) *float64 { return &v }
