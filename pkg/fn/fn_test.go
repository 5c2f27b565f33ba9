package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	if len(out) != 3 || out[2] != 6 {
		t.Fatal("Map failed")
	}
	empty := Map([]int{}, func(v int) int { return v })
	if len(empty) != 0 {
		t.Fatal("Map empty failed")
	}
}

func TestFilter(t *testing.T) {
	out := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(out) != 2 || out[0] != 2 {
		t.Fatal("Filter failed")
	}
}

func TestUniqueBy(t *testing.T) {
	type item struct {
		id   int
		name string
	}
	out := UniqueBy([]item{{1, "a"}, {2, "b"}, {1, "c"}}, func(i item) int { return i.id })
	if len(out) != 2 || out[1].name != "b" {
		t.Fatal("UniqueBy failed")
	}
}

func TestParMapResult(t *testing.T) {
	out := ParMapResult([]int{1, 2, 3}, 2, func(v int) Result[int] { return Ok(v * 2) })
	for i, r := range out {
		v, err := r.Unwrap()
		if err != nil || v != (i+1)*2 {
			t.Fatalf("ParMapResult order broken at %d", i)
		}
	}
}

func TestParMapResultEmpty(t *testing.T) {
	out := ParMapResult([]int{}, 2, func(v int) Result[int] { return Ok(v) })
	if len(out) != 0 {
		t.Fatal("ParMapResult empty should return empty")
	}
}

func TestParMapResultPreservesErrors(t *testing.T) {
	boom := errors.New("boom")
	out := ParMapResult([]int{1, 2, 3}, 0, func(v int) Result[int] {
		if v == 2 {
			return Err[int](boom)
		}
		return Ok(v)
	})
	if _, err := out[1].Unwrap(); !errors.Is(err, boom) {
		t.Fatal("error result lost")
	}
	if out[0].IsErr() || out[2].IsErr() {
		t.Fatal("neighbouring results corrupted")
	}
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, Jitter: false}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if v, _ := r.Unwrap(); v != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
}

func TestRetryExhausted(t *testing.T) {
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, Jitter: false}, func(_ context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry should fail after exhausting attempts")
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 100, InitialWait: 10 * time.Millisecond, Jitter: false}, func(ctx context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry should fail on context cancel")
	}
}
