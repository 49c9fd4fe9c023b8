package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	Register(prometheus.NewRegistry())
	SetBuildInfo("1.0.0", "abc", "2024-01-01")
	RecordConfigFetch(true)
	RecordConfigFetch(false)
	RecordBridgeMessage("accepted")
	RecordBridgeMessage("origin")
	RecordBridgePost("delivered")
	RecordSurfaceState("frame", "ready")
	RecordRedirect("GET", "submitted")
	SurfaceAttached()

	if v := testutil.ToFloat64(configFetches.WithLabelValues("success")); v != 1 {
		t.Fatalf("config fetch success: %v", v)
	}
	if v := testutil.ToFloat64(configFetches.WithLabelValues("error")); v != 1 {
		t.Fatalf("config fetch error: %v", v)
	}
	if v := testutil.ToFloat64(bridgeMessages.WithLabelValues("origin")); v != 1 {
		t.Fatalf("bridge rejections: %v", v)
	}
	if v := testutil.ToFloat64(bridgePosts.WithLabelValues("delivered")); v != 1 {
		t.Fatalf("bridge posts: %v", v)
	}
	if v := testutil.ToFloat64(surfaceStates.WithLabelValues("frame", "ready")); v != 1 {
		t.Fatalf("surface transitions: %v", v)
	}
	if v := testutil.ToFloat64(redirects.WithLabelValues("GET", "submitted")); v != 1 {
		t.Fatalf("redirects: %v", v)
	}
	if v := testutil.ToFloat64(surfacesActive); v != 1 {
		t.Fatalf("active surfaces: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
}
