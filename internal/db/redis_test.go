package db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestInitRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rs, err := InitRedis(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("init redis: %v", err)
	}
	defer rs.Close()

	if err := rs.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestInitRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := InitRedis(context.Background(), addr); err == nil {
		t.Fatal("expected error for closed server")
	}
}
