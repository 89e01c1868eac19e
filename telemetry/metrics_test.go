package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	// A second Init must not re-register collectors (promauto panics
	// on duplicates).
	Init()
	Init()

	if LinesParsed == nil {
		t.Error("LinesParsed not initialized")
	}
	if CommandsDispatched == nil {
		t.Error("CommandsDispatched not initialized")
	}
	if HelixRequestDuration == nil {
		t.Error("HelixRequestDuration not initialized")
	}
	if BacklogDepthGauge == nil {
		t.Error("BacklogDepthGauge not initialized")
	}
}

func TestHelpersDoNotPanic(t *testing.T) {
	Init()

	IncLinesParsed()
	IncParseErrors()
	IncUnhandledCommands()
	IncChatConnects()
	IncChatDisconnects()
	IncMessagesSent()
	IncSendsDropped()
	IncNewsQueued()
	IncDirectoryRequests()
	IncRateLimitHits()
	IncFollowerPages()
	IncCommandsDispatched("PRIVMSG")
	IncHTTPRequest("/healthz", "200")
	AddDirectoryCacheHits(3)
	AddFollowersRecorded(100)
	SetBacklogDepth(5)
	SetChannelsTracked(2)
	SetCacheSize(1000)
	ObserveHelixDuration(120 * time.Millisecond)
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation on empty context = %q, want empty", got)
	}

	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}

	if logger := LoggerWithCorr(ctx); logger == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
