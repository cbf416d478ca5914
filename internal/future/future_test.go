package future

import (
	"context"
	"testing"
	"time"
)

func TestSetValueThenRegisteredAfter(t *testing.T) {
	p := New(true)
	p.SetValue(7)
	var got int
	p.Future().Then(func(f Future) { got = f.Value() })
	if got != 7 {
		t.Fatalf("expected callback to fire inline with 7, got %d", got)
	}
}

func TestThenRegisteredBeforeSetValue(t *testing.T) {
	p := New(true)
	var got int
	fired := make(chan struct{})
	p.Future().Then(func(f Future) {
		got = f.Value()
		close(fired)
	})
	p.SetValue(9)
	<-fired
	if got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestSetValueSecondCallNoOp(t *testing.T) {
	p := New(true)
	p.SetValue(1)
	p.SetValue(2)
	if v := p.Future().Value(); v != 1 {
		t.Fatalf("expected first value to stick, got %d", v)
	}
}

func TestTryValueBeforeAndAfter(t *testing.T) {
	p := New(true)
	if _, ok := p.Future().TryValue(); ok {
		t.Fatal("expected TryValue false before SetValue")
	}
	p.SetValue(5)
	v, ok := p.Future().TryValue()
	if !ok || v != 5 {
		t.Fatalf("expected (5, true), got (%d, %v)", v, ok)
	}
}

func TestWaitBlockingPromise(t *testing.T) {
	p := New(false)
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.SetValue(3)
	}()
	v, err := p.Future().Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	p := New(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := p.Future().Wait(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestFastForwardWaitIgnoresContext(t *testing.T) {
	p := New(true)
	p.SetValue(4)
	v, err := p.Future().Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != 4 {
		t.Fatalf("expected 4, got %d", v)
	}
}

func TestCallbackPanicAbsorbed(t *testing.T) {
	p := New(true)
	p.Future().Then(func(Future) { panic("boom") })
	p.SetValue(1) // must not panic out of SetValue
}
