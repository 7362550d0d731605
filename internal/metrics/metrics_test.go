package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"riderdispatch/internal/model"
)

func TestEventCounter(t *testing.T) {
	before := testutil.ToFloat64(DispatchEvents.WithLabelValues(model.EventRiderAssigned, model.LevelSuccess))
	EventCounter{}.Notify(context.Background(), model.Event{Type: model.EventRiderAssigned, Level: model.LevelSuccess})
	after := testutil.ToFloat64(DispatchEvents.WithLabelValues(model.EventRiderAssigned, model.LevelSuccess))
	if after-before != 1 {
		t.Fatalf("counter moved by %v, want 1", after-before)
	}
}

func TestWorkingSetCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(WorkingSetCollector{Read: func() WorkingSet {
		return WorkingSet{
			Orders:          map[model.OrderStatus]int{model.StatusPending: 4, model.StatusOutForDelivery: 2},
			RidersAvailable: 1,
			RidersBusy:      2,
		}
	}})
	want := `
# HELP dispatch_orders Orders in the working set by status.
# TYPE dispatch_orders gauge
dispatch_orders{status="out_for_delivery"} 2
dispatch_orders{status="pending"} 4
dispatch_orders{status="selected"} 0
# HELP dispatch_riders Registered riders by status.
# TYPE dispatch_riders gauge
dispatch_riders{status="available"} 1
dispatch_riders{status="busy"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want)); err != nil {
		t.Fatal(err)
	}
}

func TestObserveTick(t *testing.T) {
	before := testutil.ToFloat64(TickReleases.WithLabelValues("order"))
	ObserveTick(1, 3)
	if got := testutil.ToFloat64(TickReleases.WithLabelValues("order")) - before; got != 3 {
		t.Fatalf("order releases moved by %v, want 3", got)
	}
}
