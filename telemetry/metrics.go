package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MessageTypeTick      = MessageType("tick")
	MessageTypeHeartbeat = MessageType("heartbeat")
)

type MessageType string

// String cast MessageType to string.
func (mt MessageType) String() string {
	return string(mt)
}

var (
	websocketMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_venue_message_total",
		Help: "Messages received from an upstream venue, by type.",
	}, []string{"venue", "type"})

	websocketReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_venue_reconnect_total",
		Help: "Reconnect attempts per upstream venue.",
	}, []string{"venue"})

	ticksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_ticks_dropped_total",
		Help: "Ticks rejected by validation, by component and reason.",
	}, []string{"component", "reason"})

	blobsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_blobs_written_total",
		Help: "Tick blobs successfully written to the data lake.",
	}, []string{"writer"})

	flushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_flush_failure_total",
		Help: "Failed blob flush attempts; the batch is retained for retry.",
	}, []string{"writer"})

	candlesUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickpipe_candles_upserted_total",
		Help: "Candle rows written to the 5m table.",
	})
)

// VenueMessage records one inbound message from a venue.
func VenueMessage(venue string, mt MessageType) {
	websocketMessages.WithLabelValues(venue, mt.String()).Inc()
}

// VenueReconnect records a reconnect attempt for a venue.
func VenueReconnect(venue string) {
	websocketReconnects.WithLabelValues(venue).Inc()
}

// TickDropped records a tick rejected by validation.
func TickDropped(component, reason string) {
	ticksDropped.WithLabelValues(component, reason).Inc()
}

// BlobWritten records a blob successfully written by a writer
// ("batcher" or "importer").
func BlobWritten(writer string) {
	blobsWritten.WithLabelValues(writer).Inc()
}

// FlushFailure records a failed flush attempt.
func FlushFailure(writer string) {
	flushFailures.WithLabelValues(writer).Inc()
}

// CandlesUpserted records n candle rows written.
func CandlesUpserted(n int) {
	candlesUpserted.Add(float64(n))
}
