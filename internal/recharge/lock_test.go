package recharge

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLockerMutualExclusion(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	locker := NewRedisLocker(cache)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = locker.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire must fail while held")
	}

	// A different user is unaffected.
	ok, err = locker.Acquire(ctx, 2)
	if err != nil || !ok {
		t.Fatalf("other user acquire: ok=%v err=%v", ok, err)
	}

	if err := locker.Release(ctx, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = locker.Acquire(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockerExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	locker := NewRedisLocker(cache)
	ctx := context.Background()

	if ok, _ := locker.Acquire(ctx, 1); !ok {
		t.Fatal("acquire failed")
	}

	mr.FastForward(lockTTL + 1)

	// A crashed holder must not wedge the user forever.
	ok, err := locker.Acquire(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}
