package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PublishProductsTotal counts per-product metadata write outcomes during a sync.
	PublishProductsTotal *prometheus.CounterVec
	// RepublishTasksTotal counts background republish task outcomes.
	RepublishTasksTotal *prometheus.CounterVec
	// LabelLookupTotal counts storefront label lookups by cache outcome.
	LabelLookupTotal *prometheus.CounterVec
	// DiscountRunTotal counts cart discount evaluations by outcome.
	DiscountRunTotal *prometheus.CounterVec
	// LabelRequestHandles records how many handles a storefront request carried.
	LabelRequestHandles prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PublishProductsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_products_total",
			Help:      "Count of per-product metadata write outcomes.",
		}, []string{"result"})
		RepublishTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "republish_tasks_total",
			Help:      "Count of background republish task outcomes.",
		}, []string{"result"})
		LabelLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "label_lookup_total",
			Help:      "Count of storefront label lookups by cache outcome.",
		}, []string{"result"})
		DiscountRunTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_run_total",
			Help:      "Count of cart discount evaluations by outcome.",
		}, []string{"result"})
		LabelRequestHandles = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "label_request_handles",
			Help:      "Distribution of handle counts per storefront label request.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20},
		})

		mustRegisterCollector(reg, PublishProductsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PublishProductsTotal = v
			}
		})
		mustRegisterCollector(reg, RepublishTasksTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RepublishTasksTotal = v
			}
		})
		mustRegisterCollector(reg, LabelLookupTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LabelLookupTotal = v
			}
		})
		mustRegisterCollector(reg, DiscountRunTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DiscountRunTotal = v
			}
		})
		mustRegisterCollector(reg, LabelRequestHandles, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				LabelRequestHandles = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
