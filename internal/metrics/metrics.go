// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames read from the capture handle
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anansi_capture_frames_total",
			Help: "Total number of frames read from the capture handle",
		},
		[]string{"interface"},
	)

	// CaptureTruncatedTotal counts frames cut down to the snapshot length
	CaptureTruncatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anansi_capture_truncated_total",
			Help: "Total number of frames truncated to the snapshot length",
		},
		[]string{"interface"},
	)

	// CaptureErrorsTotal counts read loops terminated by an error
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anansi_capture_errors_total",
			Help: "Total number of capture sessions ended by a read error",
		},
		[]string{"interface"},
	)

	// CaptureRunning is 1 while a capture session is active
	CaptureRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anansi_capture_running",
			Help: "Whether a capture session is running",
		},
	)

	// DissectFramesTotal counts dissected frames by protocol label
	DissectFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anansi_dissect_frames_total",
			Help: "Total number of dissected frames by protocol",
		},
		[]string{"protocol"},
	)

	// ObserversRegistered is the current number of registered observers
	ObserversRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anansi_observers_registered",
			Help: "Number of registered observers",
		},
	)

	// ObserverErrorsTotal counts failed or panicking observer calls
	ObserverErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anansi_observer_errors_total",
			Help: "Total number of observer calls that returned an error or panicked",
		},
	)

	// TraceRecordsTotal counts records appended to trace files
	TraceRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anansi_trace_records_written_total",
			Help: "Total number of records written to trace files",
		},
	)

	// ChannelDropsTotal counts frames dropped by full forwarding channels
	ChannelDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anansi_channel_dropped_frames_total",
			Help: "Total number of frames dropped because a forwarding channel was full",
		},
	)

	// KafkaMessagesTotal counts Kafka publish attempts by result
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anansi_kafka_messages_total",
			Help: "Total number of records published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// ControlCommandsTotal counts control socket requests by method and result
	ControlCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anansi_control_commands_total",
			Help: "Total number of control commands handled",
		},
		[]string{"method", "status"},
	)
)
