package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "billing"

var (
	InvoicesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invoices_created_total",
		Help:      "Invoices persisted, by outcome",
	}, []string{"outcome"})

	InvoiceAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invoice_total_amount",
		Help:      "Invoice totals in major currency units",
		Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 50000},
	})

	StockWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_warnings_total",
		Help:      "Medicine lines whose stock could not be deducted after invoicing",
	})

	Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_allocations_total",
		Help:      "Stock allocation attempts, by result",
	}, []string{"result"})

	UnitsDeducted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_units_deducted_total",
		Help:      "Units removed from batches by allocation",
	})

	DuesResolution = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dues_resolution_duration_seconds",
		Help:      "Time spent resolving a patient's dues",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
	}, []string{"method", "path", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// Allocation results.
const (
	AllocationOK           = "ok"
	AllocationInsufficient = "insufficient"
	AllocationUntracked    = "untracked"
)
