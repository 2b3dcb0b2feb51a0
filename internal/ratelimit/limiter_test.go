package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryLimiterWindow(t *testing.T) {
	l := NewInMemory(time.Minute)
	for i := 1; i <= 3; i++ {
		d := l.Allow("svc:runner", 3)
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
		if d.Count != i {
			t.Fatalf("count = %d, want %d", d.Count, i)
		}
	}
	d := l.Allow("svc:runner", 3)
	if d.Allowed {
		t.Fatal("fourth request allowed, want denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", d.Remaining)
	}
	// Other keys keep their own counter.
	if d := l.Allow("svc:user", 3); !d.Allowed {
		t.Fatal("different key denied")
	}
}

func TestInMemoryLimiterResets(t *testing.T) {
	l := NewInMemory(50 * time.Millisecond)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatal("second request within window allowed")
	}
	time.Sleep(60 * time.Millisecond)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("request after window denied")
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedis(client, time.Minute)

	for i := 1; i <= 2; i++ {
		if d := l.Allow("svc:runner", 2); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	if d := l.Allow("svc:runner", 2); d.Allowed {
		t.Fatal("over-limit request allowed")
	}
	if !mr.Exists("fg:rl:svc:runner") {
		t.Fatal("counter key missing in redis")
	}
}

func TestRedisLimiterFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedis(client, time.Minute)
	mr.Close()

	// Redis gone: the in-memory fallback still enforces the limit.
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("first fallback request denied")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatal("second fallback request allowed")
	}
}
