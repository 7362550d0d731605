package intake

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"riderdispatch/internal/model"
)

// Accepted header names, compared after normalizeHeader.
var columnAliases = map[string]string{
	"externalorderid":   "id",
	"orderid":           "id",
	"id":                "id",
	"ordertime":         "time",
	"time":              "time",
	"zone":              "zone",
	"distance":          "distance",
	"distancekm":        "distance",
	"distancefromdepot": "distance",
	"locationkey":       "location",
	"location":          "location",
	"address":           "location",
	"lat":               "lat",
	"latitude":          "lat",
	"lng":               "lng",
	"lon":               "lng",
	"longitude":         "lng",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// CSVSource reads orders from a CSV export with a header row. Order and
// time columns are required; the rest are optional.
type CSVSource struct {
	R io.Reader
	// Location interprets times that carry no offset. Defaults to UTC.
	Location *time.Location
}

func (CSVSource) Name() string { return "csv" }

func (s CSVSource) FetchOrders(ctx context.Context) (Batch, error) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	r := csv.NewReader(s.R)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Batch{}, errors.New("csv: empty input")
	}
	if err != nil {
		return Batch{}, fmt.Errorf("csv header: %w", err)
	}
	cols := map[string]int{}
	var b Batch
	for i, h := range header {
		name, ok := columnAliases[normalizeHeader(h)]
		if _, dup := cols[name]; ok && !dup {
			cols[name] = i
			continue
		}
		if strings.TrimSpace(h) != "" {
			b.Ignored = append(b.Ignored, strings.TrimSpace(h))
		}
	}
	if _, ok := cols["id"]; !ok {
		return Batch{}, errors.New("csv: missing order id column")
	}
	if _, ok := cols["time"]; !ok {
		return Batch{}, errors.New("csv: missing order time column")
	}

	for {
		if err := ctx.Err(); err != nil {
			return b, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				b.Rejected = append(b.Rejected, RowError{Line: pe.Line, Reason: pe.Err.Error()})
				continue
			}
			return b, fmt.Errorf("csv: %w", err)
		}
		// Blank lines are skipped by the reader, so ask it for the line.
		line, _ := r.FieldPos(0)
		field := func(name string) string {
			if i, ok := cols[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if isBlank(rec) {
			continue
		}
		req, reason := parseRow(field, loc)
		if reason != "" {
			b.Rejected = append(b.Rejected, RowError{Line: line, ExternalOrderID: req.ExternalOrderID, Reason: reason})
			continue
		}
		b.Rows = append(b.Rows, Row{Line: line, Order: req})
	}
	return b, nil
}

func parseRow(field func(string) string, loc *time.Location) (model.CreateOrderRequest, string) {
	req := model.CreateOrderRequest{
		ExternalOrderID: field("id"),
		Zone:            field("zone"),
		LocationKey:     field("location"),
	}
	if req.ExternalOrderID == "" {
		return req, "order id is empty"
	}
	t, err := parseTime(field("time"), loc)
	if err != nil {
		return req, err.Error()
	}
	req.OrderTime = &t

	if raw := field("distance"); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil || d < 0 {
			return req, fmt.Sprintf("distance %q is not a non-negative number", raw)
		}
		req.DistanceKm = &d
	}
	latRaw, lngRaw := field("lat"), field("lng")
	if latRaw != "" || lngRaw != "" {
		lat, err1 := strconv.ParseFloat(latRaw, 64)
		lng, err2 := strconv.ParseFloat(lngRaw, 64)
		if err1 != nil || err2 != nil {
			return req, fmt.Sprintf("coordinates %q,%q are not numbers", latRaw, lngRaw)
		}
		req.Location = &model.GeoPoint{Lat: lat, Lng: lng}
	}
	return req, ""
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("order time is empty")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("order time %q is not a recognised timestamp", raw)
}

// normalizeHeader lower-cases h and keeps only letters and digits outside
// any bracketed unit, so "Distance (km)" and "distance_km" both resolve.
func normalizeHeader(h string) string {
	var sb strings.Builder
	depth := 0
	for _, r := range strings.ToLower(h) {
		switch {
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth = max(depth-1, 0)
		case depth == 0 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
