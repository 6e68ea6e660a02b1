package hotkey

import (
	"testing"
	"time"
)

func TestPressDebouncesRepeat(t *testing.T) {
	l := NewListener([]string{"ctrl", "r"})
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }

	l.press()
	clock = clock.Add(50 * time.Millisecond)
	l.press()

	select {
	case <-l.Clicks():
	default:
		t.Fatal("first press did not click")
	}
	select {
	case <-l.Clicks():
		t.Fatal("auto-repeat produced a second click")
	default:
	}

	clock = clock.Add(time.Second)
	l.press()
	select {
	case <-l.Clicks():
	default:
		t.Fatal("press after the repeat window did not click")
	}
}

func TestPressNeverBlocks(t *testing.T) {
	l := NewListener([]string{"f9"})
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }

	for range 5 {
		clock = clock.Add(time.Second)
		l.press()
	}
	if got := len(l.ch); got != 1 {
		t.Errorf("buffered clicks = %d, want 1", got)
	}
}
