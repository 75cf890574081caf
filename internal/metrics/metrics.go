// Package metrics exposes prometheus collectors for the inkhub daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkhub_active_rooms",
		Help: "Number of live rooms in the registry",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkhub_active_sessions",
		Help: "Number of connected WebSocket sessions",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkhub_sessions_total",
		Help: "Total number of sessions accepted since start",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkhub_messages_total",
		Help: "Inbound document messages by outcome",
	}, []string{"outcome"}) // outcome=applied|noop|rejected

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkhub_snapshot_flushes_total",
		Help: "Room snapshot flush attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	roomsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkhub_rooms_closed_total",
		Help: "Rooms closed by reason",
	}, []string{"reason"}) // reason=idle|shutdown

	sweepDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkhub_sweep_deleted_total",
		Help: "Files deleted by the retention sweeper by kind",
	}, []string{"kind"}) // kind=room|asset

	unfurlsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkhub_unfurls_total",
		Help: "Unfurl resolutions by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkhub_upload_bytes_total",
		Help: "Total asset bytes accepted via PUT /uploads",
	})
)

func SetActiveRooms(n int)    { activeRooms.Set(float64(n)) }
func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }
func SessionAccepted()        { sessionsTotal.Inc() }

func MessageApplied()  { messagesTotal.WithLabelValues("applied").Inc() }
func MessageNoop()     { messagesTotal.WithLabelValues("noop").Inc() }
func MessageRejected() { messagesTotal.WithLabelValues("rejected").Inc() }

func FlushSucceeded() { flushesTotal.WithLabelValues("success").Inc() }
func FlushFailed()    { flushesTotal.WithLabelValues("failure").Inc() }

func RoomClosed(reason string) { roomsClosedTotal.WithLabelValues(reason).Inc() }

func SweepDeletedRoom()  { sweepDeletedTotal.WithLabelValues("room").Inc() }
func SweepDeletedAsset() { sweepDeletedTotal.WithLabelValues("asset").Inc() }

func UnfurlSucceeded() { unfurlsTotal.WithLabelValues("success").Inc() }
func UnfurlFailed()    { unfurlsTotal.WithLabelValues("failure").Inc() }

func UploadAccepted(bytes int64) { uploadBytesTotal.Add(float64(bytes)) }
