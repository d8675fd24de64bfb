package httpx

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRateLimiterWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if d := rl.Allow(ctx, "k", 3, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}
	if d := rl.Allow(ctx, "k", 3, time.Minute); d.allowed {
		t.Fatal("fourth request should be denied")
	}
	if d := rl.Allow(ctx, "other", 3, time.Minute); !d.allowed {
		t.Fatal("keys must be independent")
	}

	now = now.Add(61 * time.Second)
	if d := rl.Allow(ctx, "k", 3, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("window should reset, got %+v", d)
	}
	rl.cleanup(now.Add(2 * time.Minute))
	if len(rl.entries) != 0 {
		t.Fatalf("expected expired entries swept, got %d", len(rl.entries))
	}
	if d := rl.Allow(ctx, "k", 0, time.Minute); !d.allowed {
		t.Fatal("zero limit disables limiting")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	rl := newRedisRateLimiter(client, nil)
	defer rl.Close()

	reg := prometheus.NewRegistry()
	router := NewRouter(Options{Deployer: newFakeDeployer(), Limiter: rl, SubmitLimit: 1, Registerer: reg, Gatherer: reg})
	body := `{"channel":"object-storage","artifact":{"path":"a.apk"}}`
	for i := 0; i < 3; i++ {
		if rec := do(t, router, http.MethodPost, "/jobs", body); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202 while redis is down, got %d", i, rec.Code)
		}
	}
	if got := testutil.ToFloat64(router.metrics.rateLimiterErrors.WithLabelValues("eval")); got != 3 {
		t.Fatalf("expected three limiter errors, got %v", got)
	}
}
