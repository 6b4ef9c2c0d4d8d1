package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaybackAttempts tracks the outcome of play attempts by engine and result.
	PlaybackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpass_playback_attempts_total",
		Help: "Total number of playback attempts by engine and result",
	}, []string{"engine", "result"})

	// PlaybackResolveDuration tracks the token + signed URL exchange latency.
	PlaybackResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "creatorpass_playback_resolve_duration_seconds",
		Help:    "Time taken to resolve a playback credential into a signed delivery URL",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"result"})

	// EngineReleases counts engine handles released by playback sessions.
	EngineReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpass_playback_engine_releases_total",
		Help: "Total number of playback engine instances released",
	}, []string{"engine"})

	// SubRequests counts manifest/segment requests seen by the authorization rewriter.
	SubRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpass_playback_subrequests_total",
		Help: "Total number of engine sub-requests by whether the authorization parameter was appended",
	}, []string{"rewritten"})

	// StreamConnected is 1 while the notification stream is connected.
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "creatorpass_notify_stream_connected",
		Help: "Whether the notification stream is currently connected",
	})

	// StreamReconnects counts reconnect attempts after an unexpected stream failure.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creatorpass_notify_stream_reconnects_total",
		Help: "Total number of notification stream reconnect attempts",
	})

	// StreamFrames counts decoded frames by outcome.
	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpass_notify_frames_total",
		Help: "Total number of notification frames by result",
	}, []string{"result"})

	// PlaybackTokensIssued counts playback tokens issued by the reference backend.
	PlaybackTokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpass_devserver_playback_tokens_total",
		Help: "Total number of playback token requests handled by the reference backend",
	}, []string{"result"})
)

// ObservePlaybackAttempt records the terminal result of one play attempt.
func ObservePlaybackAttempt(engine, result string) {
	if engine == "" {
		engine = "none"
	}
	PlaybackAttempts.WithLabelValues(engine, result).Inc()
}

// ObserveResolve records resolution latency.
func ObserveResolve(result string, duration time.Duration) {
	PlaybackResolveDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func IncEngineRelease(engine string) {
	EngineReleases.WithLabelValues(engine).Inc()
}

func IncSubRequest(rewritten bool) {
	SubRequests.WithLabelValues(strconv.FormatBool(rewritten)).Inc()
}

func SetStreamConnected(connected bool) {
	if connected {
		StreamConnected.Set(1)
		return
	}
	StreamConnected.Set(0)
}

func IncStreamReconnect() {
	StreamReconnects.Inc()
}

func IncStreamFrame(result string) {
	StreamFrames.WithLabelValues(result).Inc()
}

func IncPlaybackToken(result string) {
	PlaybackTokensIssued.WithLabelValues(result).Inc()
}
