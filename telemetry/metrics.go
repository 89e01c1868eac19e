// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinesParsed        prometheus.Counter
	ParseErrors        prometheus.Counter
	CommandsDispatched *prometheus.CounterVec
	UnhandledCommands  prometheus.Counter
	ChatConnects       prometheus.Counter
	ChatDisconnects    prometheus.Counter
	MessagesSent       prometheus.Counter
	SendsDropped       prometheus.Counter
	NewsQueued         prometheus.Counter
	DirectoryRequests  prometheus.Counter
	DirectoryCacheHits prometheus.Counter
	RateLimitHits      prometheus.Counter
	FollowerPages      prometheus.Counter
	FollowersRecorded  prometheus.Counter
	HTTPRequests       *prometheus.CounterVec

	// Histograms (seconds)
	HelixRequestDuration prometheus.Observer

	// Gauges
	BacklogDepthGauge    prometheus.Gauge
	ChannelsTrackedGauge prometheus.Gauge
	CacheSizeGauge       prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinesParsed = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_lines_parsed_total", Help: "Inbound chat lines handed to the parser"})
		ParseErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_parse_errors_total", Help: "Inbound chat lines dropped as malformed"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roster_commands_dispatched_total", Help: "Handled chat commands by command token"}, []string{"command"})
		UnhandledCommands = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_unhandled_commands_total", Help: "Chat commands with no registered handler"})
		ChatConnects = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_chat_connects_total", Help: "Chat transport establishments"})
		ChatDisconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_chat_disconnects_total", Help: "Chat transport drops"})
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_messages_sent_total", Help: "Outbound chat messages sent"})
		SendsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_sends_dropped_total", Help: "Outbound chat messages dropped by the rate limiter"})
		NewsQueued = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_news_queued_total", Help: "News entries accepted into channel queues"})
		DirectoryRequests = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_directory_requests_total", Help: "Helix user lookup calls issued"})
		DirectoryCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_directory_cache_hits_total", Help: "Lookup keys answered from the directory cache"})
		RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_rate_limit_hits_total", Help: "HTTP 429 responses from Helix"})
		FollowerPages = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_follower_pages_total", Help: "Follower pages fetched"})
		FollowersRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "roster_followers_recorded_total", Help: "Follower ids added to channel sets"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roster_http_requests_total", Help: "HTTP API requests by route and status"}, []string{"route", "code"})
		HelixRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "roster_helix_request_duration_seconds", Help: "Helix call duration seconds", Buckets: prometheus.DefBuckets})
		BacklogDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "roster_backlog_depth", Help: "Outbound commands queued while unauthenticated"})
		ChannelsTrackedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "roster_channels_tracked", Help: "Channels currently in the registry"})
		CacheSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "roster_directory_cache_size", Help: "User records held in the directory cache"})
	})
}

// Counter helpers are nil-safe so packages can run (and be tested)
// without Init having been called.

func IncLinesParsed()       { inc(LinesParsed) }
func IncParseErrors()       { inc(ParseErrors) }
func IncUnhandledCommands() { inc(UnhandledCommands) }
func IncChatConnects()      { inc(ChatConnects) }
func IncChatDisconnects()   { inc(ChatDisconnects) }
func IncMessagesSent()      { inc(MessagesSent) }
func IncSendsDropped()      { inc(SendsDropped) }
func IncNewsQueued()        { inc(NewsQueued) }
func IncDirectoryRequests() { inc(DirectoryRequests) }
func IncRateLimitHits()     { inc(RateLimitHits) }
func IncFollowerPages()     { inc(FollowerPages) }

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func IncCommandsDispatched(command string) {
	if CommandsDispatched != nil {
		CommandsDispatched.WithLabelValues(command).Inc()
	}
}

func IncHTTPRequest(route, code string) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(route, code).Inc()
	}
}

// AddDirectoryCacheHits records n keys skipped because they were already cached.
func AddDirectoryCacheHits(n int) {
	if DirectoryCacheHits != nil {
		DirectoryCacheHits.Add(float64(n))
	}
}

// AddFollowersRecorded records n new follower ids appended to a channel set.
func AddFollowersRecorded(n int) {
	if FollowersRecorded != nil {
		FollowersRecorded.Add(float64(n))
	}
}

// SetBacklogDepth records the current outbound backlog length.
func SetBacklogDepth(n int) { setGauge(BacklogDepthGauge, n) }

// SetChannelsTracked records the registry size.
func SetChannelsTracked(n int) { setGauge(ChannelsTrackedGauge, n) }

// SetCacheSize records the directory cache size.
func SetCacheSize(n int) { setGauge(CacheSizeGauge, n) }

func setGauge(g prometheus.Gauge, n int) {
	if g != nil {
		g.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// ObserveHelixDuration records one Helix call duration.
func ObserveHelixDuration(d time.Duration) {
	if HelixRequestDuration != nil {
		HelixRequestDuration.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
