// Package metrics exposes gallery activity as prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/dropgallery/schema"
)

// Metrics holds the gallery collectors and the registry they live in.
//
// Metrics:
//   - dropgallery_gallery_events_total{type}
//   - dropgallery_uploads_total{result}
//   - dropgallery_images_uploaded_total
//   - dropgallery_uploads_pending
//   - dropgallery_logins_total{result}
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal    *prometheus.CounterVec
	UploadsTotal   *prometheus.CounterVec
	ImagesUploaded prometheus.Counter
	UploadsPending prometheus.Gauge
	LoginsTotal    *prometheus.CounterVec
}

// New creates a registry with the gallery collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropgallery_gallery_events_total",
				Help: "Total number of gallery events by type",
			},
			[]string{"type"},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropgallery_uploads_total",
				Help: "Total number of finished uploads by result",
			},
			[]string{"result"},
		),
		ImagesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dropgallery_images_uploaded_total",
			Help: "Total number of image records committed by uploads",
		}),
		UploadsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dropgallery_uploads_pending",
			Help: "Number of uploads waiting to commit",
		}),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropgallery_logins_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.EventsTotal,
		m.UploadsTotal,
		m.ImagesUploaded,
		m.UploadsPending,
		m.LoginsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnGalleryEvent updates counters from a gallery event.
func (m *Metrics) OnGalleryEvent(event schema.GalleryEvent) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case schema.GalleryUploadStarted:
		m.UploadsPending.Inc()
	case schema.GalleryUploadCommitted:
		m.UploadsPending.Dec()
		m.UploadsTotal.WithLabelValues("committed").Inc()
		m.ImagesUploaded.Add(float64(len(event.Images)))
	case schema.GalleryUploadFailed:
		m.UploadsPending.Dec()
		m.UploadsTotal.WithLabelValues("failed").Inc()
	}
}

// OnLogin counts a login attempt.
func (m *Metrics) OnLogin(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}
