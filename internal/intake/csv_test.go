package intake

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCSVSource_FetchOrders(t *testing.T) {
	in := `Order ID,Order Time,Zone,Distance (km),Address,Lat,Lng
EXT-1,2024-05-01 10:00:00,a,3.5,12 High St,,
EXT-2,2024-05-01T10:05:00+01:00,B,,,51.5,-0.12

EXT-3,yesterday,C,,,,
,2024-05-01 10:00,C,,,,
EXT-5,2024-05-01 10:00,D,-2,,,
EXT-6,2024-05-01 10:00,E,,,51.5,
`
	b, err := CSVSource{R: strings.NewReader(in)}.FetchOrders(context.Background())
	if err != nil {
		t.Fatalf("FetchOrders: %v", err)
	}
	if len(b.Rows) != 2 {
		t.Fatalf("rows = %+v", b.Rows)
	}
	r1 := b.Rows[0]
	if r1.Line != 2 || r1.Order.ExternalOrderID != "EXT-1" || r1.Order.Zone != "a" {
		t.Errorf("row 1 = %+v", r1)
	}
	if r1.Order.DistanceKm == nil || *r1.Order.DistanceKm != 3.5 {
		t.Errorf("row 1 distance = %v", r1.Order.DistanceKm)
	}
	if r1.Order.LocationKey != "12 High St" || r1.Order.Location != nil {
		t.Errorf("row 1 location = %q %v", r1.Order.LocationKey, r1.Order.Location)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !r1.Order.OrderTime.Equal(want) {
		t.Errorf("row 1 time = %v", r1.Order.OrderTime)
	}
	r2 := b.Rows[1]
	if r2.Line != 3 || r2.Order.Location == nil || r2.Order.Location.Lat != 51.5 {
		t.Errorf("row 2 = %+v", r2)
	}
	if _, off := r2.Order.OrderTime.Zone(); off != 3600 {
		t.Errorf("row 2 offset lost: %v", r2.Order.OrderTime)
	}

	wantLines := []int{5, 6, 7, 8}
	if len(b.Rejected) != len(wantLines) {
		t.Fatalf("rejected = %+v", b.Rejected)
	}
	for i, l := range wantLines {
		if b.Rejected[i].Line != l {
			t.Errorf("rejected[%d].Line = %d, want %d", i, b.Rejected[i].Line, l)
		}
	}
	if got := b.Requests(); len(got) != 2 || got[1].ExternalOrderID != "EXT-2" {
		t.Errorf("Requests() = %+v", got)
	}
	if len(b.Ignored) != 0 {
		t.Errorf("ignored = %v", b.Ignored)
	}
}

func TestCSVSource_DistanceHeaders(t *testing.T) {
	for _, h := range []string{"Distance (km)", "distance_km", "Distance [km]", "DISTANCE-FROM-DEPOT", "distance"} {
		in := "Order ID,Order Time," + h + "\nA-1,2024-05-01 10:00,3.5\nA-2,2024-05-01 10:00,-2\n"
		b, err := CSVSource{R: strings.NewReader(in)}.FetchOrders(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", h, err)
		}
		if len(b.Rows) != 1 || b.Rows[0].Order.DistanceKm == nil || *b.Rows[0].Order.DistanceKm != 3.5 {
			t.Errorf("%s: rows = %+v", h, b.Rows)
		}
		if len(b.Rejected) != 1 || b.Rejected[0].Line != 3 || b.Rejected[0].ExternalOrderID != "A-2" {
			t.Errorf("%s: rejected = %+v", h, b.Rejected)
		}
	}
}

func TestCSVSource_IgnoredColumns(t *testing.T) {
	in := "order_id,order_time,Notes,Order ID,,Dist (mi)\nX,2024-05-01 10:00,fragile,Y,,4\n"
	b, err := CSVSource{R: strings.NewReader(in)}.FetchOrders(context.Background())
	if err != nil || len(b.Rows) != 1 {
		t.Fatalf("b=%+v err=%v", b, err)
	}
	if b.Rows[0].Order.ExternalOrderID != "X" || b.Rows[0].Order.DistanceKm != nil {
		t.Errorf("row = %+v", b.Rows[0].Order)
	}
	want := []string{"Notes", "Order ID", "Dist (mi)"}
	if strings.Join(b.Ignored, "|") != strings.Join(want, "|") {
		t.Errorf("ignored = %q, want %q", b.Ignored, want)
	}
}

func TestCSVSource_LocalTimes(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	in := "external_order_id,order_time\nX,2024-05-01 09:30\n"
	b, err := CSVSource{R: strings.NewReader(in), Location: loc}.FetchOrders(context.Background())
	if err != nil || len(b.Rows) != 1 {
		t.Fatalf("b=%+v err=%v", b, err)
	}
	if got := b.Rows[0].Order.OrderTime; got.Location() != loc || got.Hour() != 9 {
		t.Fatalf("time = %v", got)
	}
}

func TestCSVSource_HeaderErrors(t *testing.T) {
	for name, in := range map[string]string{
		"empty":   "",
		"no id":   "order_time,zone\n2024-05-01 10:00,A\n",
		"no time": "order_id,zone\nX,A\n",
	} {
		if _, err := (CSVSource{R: strings.NewReader(in)}).FetchOrders(context.Background()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
