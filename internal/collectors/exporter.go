package collectors

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pullpilot"
)

// Exporter exposes constant information about the running process.
type Exporter struct {
	buildInfo *prometheus.Desc

	Version string

	// ComposeVersion returns the detected compose version, evaluated at collection time.
	ComposeVersion func() string
}

// NewExporter returns the process information collector.
func NewExporter(version string, composeVersion func() string) *Exporter {
	return &Exporter{
		buildInfo: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "build_info"),
			"Build information of the running process, always 1",
			[]string{"version", "goversion", "compose_version"},
			nil,
		),
		Version:        version,
		ComposeVersion: composeVersion,
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.buildInfo
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	composeVersion := ""
	if e.ComposeVersion != nil {
		composeVersion = e.ComposeVersion()
	}

	ch <- prometheus.MustNewConstMetric(
		e.buildInfo,
		prometheus.GaugeValue,
		1,
		e.Version,
		runtime.Version(),
		composeVersion,
	)
}
