package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netcap"

var (
	descCaptured       = newDesc("captured_total", "Buffers received from the capture device.")
	descProcessed      = newDesc("processed_total", "Records handed to the transformation.")
	descDropped        = newDesc("dropped_total", "Buffers dropped without a record.")
	descQueueDropped   = newDesc("queue_dropped_total", "Buffers dropped because the intake queue was full.")
	descErrors         = newDesc("errors_total", "Records that failed during transformation.")
	descForwarded      = newDesc("forwarded_total", "Records delivered to the forwarder.")
	descForwardErrors  = newDesc("forward_errors_total", "Forwarder delivery failures.")
	descProcessingTime = newDesc("processing_seconds_total", "Time spent in transformations.")
	descDeviceReceived = newDesc("device_received_total", "Packets reported received by the capture device.")
	descDeviceDropped  = newDesc("device_dropped_total", "Packets reported dropped by the capture device.")
)

func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCaptured
	ch <- descProcessed
	ch <- descDropped
	ch <- descQueueDropped
	ch <- descErrors
	ch <- descForwarded
	ch <- descForwardErrors
	ch <- descProcessingTime
	ch <- descDeviceReceived
	ch <- descDeviceDropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	counter(descCaptured, float64(s.Captured))
	counter(descProcessed, float64(s.Processed))
	counter(descDropped, float64(s.Dropped))
	counter(descQueueDropped, float64(s.QueueDropped))
	counter(descErrors, float64(s.Errors))
	counter(descForwarded, float64(s.Forwarded))
	counter(descForwardErrors, float64(s.ForwardErrors))
	counter(descProcessingTime, s.ProcessingTime.Seconds())
	counter(descDeviceReceived, float64(s.DeviceReceived))
	counter(descDeviceDropped, float64(s.DeviceDropped))
}
