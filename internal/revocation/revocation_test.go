package revocation

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type list interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

func exerciseList(t *testing.T, l list) {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	revoked, err := l.IsRevoked(ctx, id)
	if err != nil {
		t.Fatalf("is revoked error: %v", err)
	}
	if revoked {
		t.Fatalf("expected fresh id to be live")
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := l.Revoke(ctx, id, time.Now().Add(time.Minute))
			if err != nil {
				t.Errorf("revoke error: %v", err)
				return
			}
			if first {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one first revocation, got %d", wins)
	}

	revoked, err = l.IsRevoked(ctx, id)
	if err != nil {
		t.Fatalf("is revoked error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected id to be revoked")
	}
}

func TestMemoryList(t *testing.T) {
	exerciseList(t, NewMemoryList())
}

func TestMemoryListForgetsExpiredEntries(t *testing.T) {
	l := NewMemoryList()
	now := time.Now()
	l.now = func() time.Time { return now }

	if _, err := l.Revoke(context.Background(), "jti-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	now = now.Add(2 * time.Minute)
	revoked, _ := l.IsRevoked(context.Background(), "jti-1")
	if revoked {
		t.Fatalf("expected entry to lapse with the token")
	}
}

func TestRedisList(t *testing.T) {
	addr := os.Getenv("LMS_TEST_REDIS")
	if addr == "" {
		t.Skip("LMS_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	exerciseList(t, NewRedisList(client))
}
