package assetcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	redis "github.com/redis/go-redis/v9"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", tb.Name()))
	if err != nil {
		tb.Fatalf("Failed to open sqlite: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// exerciseCache runs the behaviour every backend shares.
func exerciseCache(t *testing.T, c Cache) {
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get(missing) returned %v, want ErrMiss", err)
	}
	if err := c.Set(ctx, "a", []byte("one"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("Get = %q, want one", got)
	}

	if err := c.Set(ctx, "a", []byte("two"), time.Minute); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if got, _ := c.Get(ctx, "a"); string(got) != "two" {
		t.Errorf("Get after overwrite = %q, want two", got)
	}

	if err := c.Set(ctx, "zero", []byte("x"), 0); err != nil {
		t.Fatalf("Set with zero ttl failed: %v", err)
	}
	if _, err := c.Get(ctx, "zero"); !errors.Is(err, ErrMiss) {
		t.Errorf("zero ttl entry was stored")
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Delete returned %v, want ErrMiss", err)
	}

	for _, k := range []string{"p1", "p2", "p3"} {
		if err := c.Set(ctx, k, []byte(k), time.Minute); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}
	if err := c.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	for _, k := range []string{"p1", "p2", "p3"} {
		if _, err := c.Get(ctx, k); !errors.Is(err, ErrMiss) {
			t.Errorf("Get(%s) after Purge returned %v, want ErrMiss", k, err)
		}
	}
}

func TestMemory(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	m := NewMemory()
	m.now = clk.Now
	ctx := context.Background()

	m.Set(ctx, "short", []byte("x"), time.Second)
	m.Set(ctx, "long", []byte("y"), time.Hour)
	clk.Advance(2 * time.Second)

	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired entry returned %v, want ErrMiss", err)
	}
	if _, err := m.Get(ctx, "long"); err != nil {
		t.Errorf("live entry returned %v", err)
	}

	m.Set(ctx, "other", []byte("z"), time.Second)
	clk.Advance(2 * time.Second)
	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	value := []byte("abc")
	m.Set(ctx, "k", value, time.Minute)
	value[0] = 'X'

	got, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value changed with caller's slice: %q", got)
	}
	got[1] = 'Y'
	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value changed with returned slice: %q", again)
	}
}

func TestSQLite(t *testing.T) {
	c, err := NewSQLite(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	exerciseCache(t, c)
}

func TestSQLite_Expiry(t *testing.T) {
	c, err := NewSQLite(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	clk := &clock{now: time.Unix(1000, 0)}
	c.now = clk.Now
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired entry returned %v, want ErrMiss", err)
	}
	removed, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d rows, want 1", removed)
	}
}

func TestSQLite_ReopenKeepsTable(t *testing.T) {
	db := newTestDB(t)
	first, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	ctx := context.Background()
	first.Set(ctx, "k", []byte("v"), time.Hour)

	second, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("second NewSQLite failed: %v", err)
	}
	if got, err := second.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}

// TestRedis needs a disposable server, e.g. FROND_TEST_REDIS_ADDR=127.0.0.1:6379.
func TestRedis(t *testing.T) {
	addr := os.Getenv("FROND_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FROND_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.RedisAddr = addr
	cfg.RedisPrefix = "frond:test:" + t.Name() + ":"
	c, err := DialRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	defer c.Close()
	exerciseCache(t, c)
}

func TestRedis_PurgeKeepsForeignKeys(t *testing.T) {
	addr := os.Getenv("FROND_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FROND_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	foreign := "frond:test:foreign:" + t.Name()
	if err := client.Set(ctx, foreign, "keep", time.Minute).Err(); err != nil {
		t.Fatalf("Set foreign key failed: %v", err)
	}
	defer client.Del(ctx, foreign)

	c := NewRedis(client, "frond:test:"+t.Name()+":")
	c.Set(ctx, "mine", []byte("x"), time.Minute)
	if err := c.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if v, err := client.Get(ctx, foreign).Result(); err != nil || v != "keep" {
		t.Errorf("foreign key lost after Purge: %q, %v", v, err)
	}
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Hour)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("Nop.Get returned %v, want ErrMiss", err)
	}
}
