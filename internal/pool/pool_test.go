package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitResult(t *testing.T) {
	p := New(2, 4)
	defer p.Close()

	f := Submit(context.Background(), p, func() (int, error) { return 42, nil })
	got, err := f.Get(context.Background())
	if err != nil || got != 42 {
		t.Errorf("Get() = %d, %v, want 42, nil", got, err)
	}
}

func TestSubmitError(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	wantErr := errors.New("exception in pool worker")
	f := Submit(context.Background(), p, func() (struct{}, error) { return struct{}{}, wantErr })
	if _, err := f.Get(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Get() err = %v, want %v", err, wantErr)
	}
}

func TestSubmitPanic(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	f := Submit(context.Background(), p, func() (int, error) { panic("boom") })
	_, err := f.Get(context.Background())
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Get() err = %v, want *PanicError", err)
	}
	if pe.Value != "boom" || len(pe.Stack) == 0 {
		t.Errorf("PanicError = %v", pe)
	}

	// the worker survives the panic
	f2 := Submit(context.Background(), p, func() (int, error) { return 7, nil })
	if v, err := f2.Get(context.Background()); v != 7 || err != nil {
		t.Errorf("after panic Get() = %d, %v", v, err)
	}
}

func TestFuturesKeepOrder(t *testing.T) {
	p := New(4, 8)
	defer p.Close()

	var futures []*Future[int]
	for i := 0; i < 100; i++ {
		futures = append(futures, Submit(context.Background(), p, func() (int, error) {
			if i%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			return i * i, nil
		}))
	}
	for i, f := range futures {
		v, err := f.Get(context.Background())
		if err != nil || v != i*i {
			t.Fatalf("future %d = %d, %v", i, v, err)
		}
	}
}

func TestCloseWaitsAndRejects(t *testing.T) {
	p := New(2, 2)
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		Submit(context.Background(), p, func() (struct{}, error) {
			ran.Add(1)
			return struct{}{}, nil
		})
	}
	p.Close()
	if ran.Load() != 10 {
		t.Errorf("ran %d jobs before Close returned, want 10", ran.Load())
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d after Close", p.Pending())
	}

	f := Submit(context.Background(), p, func() (int, error) { return 1, nil })
	if _, err := f.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close err = %v, want ErrClosed", err)
	}
	p.Close()
}

func TestGetHonorsContext(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	release := make(chan struct{})
	f := Submit(context.Background(), p, func() (int, error) {
		<-release
		return 1, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() err = %v, want DeadlineExceeded", err)
	}
	close(release)
	if v, err := f.Get(context.Background()); v != 1 || err != nil {
		t.Errorf("Get() = %d, %v", v, err)
	}
}
