package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"riderdispatch/internal/model"
)

// WorkingSet is a point-in-time count read at scrape time.
type WorkingSet struct {
	Orders          map[model.OrderStatus]int
	RidersAvailable int
	RidersBusy      int
}

var (
	ordersDesc = prometheus.NewDesc("dispatch_orders", "Orders in the working set by status.", []string{"status"}, nil)
	ridersDesc = prometheus.NewDesc("dispatch_riders", "Registered riders by status.", []string{"status"}, nil)
)

// WorkingSetCollector exports order and rider gauges without keeping them
// in sync by hand.
type WorkingSetCollector struct {
	Read func() WorkingSet
}

func (c WorkingSetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ordersDesc
	ch <- ridersDesc
}

func (c WorkingSetCollector) Collect(ch chan<- prometheus.Metric) {
	ws := c.Read()
	for _, st := range []model.OrderStatus{model.StatusPending, model.StatusSelected, model.StatusOutForDelivery} {
		ch <- prometheus.MustNewConstMetric(ordersDesc, prometheus.GaugeValue, float64(ws.Orders[st]), string(st))
	}
	ch <- prometheus.MustNewConstMetric(ridersDesc, prometheus.GaugeValue, float64(ws.RidersAvailable), string(model.RiderAvailable))
	ch <- prometheus.MustNewConstMetric(ridersDesc, prometheus.GaugeValue, float64(ws.RidersBusy), string(model.RiderBusy))
}
