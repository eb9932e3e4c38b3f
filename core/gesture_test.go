package orchestration

import (
	"sync"
	"testing"
	"time"

	"github.com/robinglory/lingo-core/core/gestures"
)

// recordingLink captures every command delivered over the bridge.
type recordingLink struct {
	mu       sync.Mutex
	commands []gestures.Command
	closed   int
}

func (l *recordingLink) Send(cmd gestures.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, cmd)
	return nil
}

func (l *recordingLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *recordingLink) snapshot() []gestures.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]gestures.Command(nil), l.commands...)
}

func TestGestureBridgeDeliversCommandsInOrder(t *testing.T) {
	link := &recordingLink{}
	bridge := newGestureBridge(link)

	bridge.Set(gestures.CommandListen)
	bridge.Set(gestures.CommandThink)
	bridge.Set(gestures.CommandTalk)
	bridge.Close()

	want := []gestures.Command{
		gestures.CommandListen,
		gestures.CommandThink,
		gestures.CommandTalk,
		gestures.CommandIdle,
	}
	got := link.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %d commands, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected command %d to be %q, got %q", i, want[i], got[i])
		}
	}
}

func TestGestureBridgeCloseParksExactlyOnce(t *testing.T) {
	link := &recordingLink{}
	bridge := newGestureBridge(link)

	bridge.Close()
	bridge.Close()
	bridge.Set(gestures.CommandTalk)

	idleCount := 0
	for _, cmd := range link.snapshot() {
		if cmd == gestures.CommandIdle {
			idleCount++
		}
		if cmd == gestures.CommandTalk {
			t.Error("expected commands after close to be dropped")
		}
	}
	if idleCount != 1 {
		t.Errorf("expected exactly one idle command on shutdown, got %d", idleCount)
	}
	if link.closed != 1 {
		t.Errorf("expected the link to be closed once, got %d", link.closed)
	}
}

func TestGestureBridgeInterruptStopsThenParks(t *testing.T) {
	link := &recordingLink{}
	bridge := newGestureBridge(link)

	bridge.Interrupt()

	deadline := time.After(time.Second)
	for {
		got := link.snapshot()
		if len(got) >= 2 {
			if got[0] != gestures.CommandStop || got[1] != gestures.CommandIdle {
				t.Errorf("expected stop then idle, got %v", got)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("interrupt commands never delivered, got %v", got)
		case <-time.After(5 * time.Millisecond):
		}
	}

	bridge.Close()
}

// TestGestureBridgeCloseRacesConcurrentSets hammers Set from several
// goroutines while Close runs. A send slipping past the closed check onto the
// closed channel would panic.
func TestGestureBridgeCloseRacesConcurrentSets(t *testing.T) {
	link := &recordingLink{}
	bridge := newGestureBridge(link)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				bridge.Set(gestures.CommandTalk)
			}
		}()
	}

	time.Sleep(time.Millisecond)
	bridge.Close()
	wg.Wait()

	got := link.snapshot()
	if len(got) == 0 {
		t.Fatal("expected the idle park command to be delivered")
	}
	if got[len(got)-1] != gestures.CommandIdle {
		t.Errorf("expected the final delivered command to be idle, got %q", got[len(got)-1])
	}
	if link.closed != 1 {
		t.Errorf("expected the link to be closed once, got %d", link.closed)
	}
}

func TestGestureBridgeWithoutLink(t *testing.T) {
	bridge := newGestureBridge(nil)
	bridge.Set(gestures.CommandListen)
	bridge.Interrupt()
	bridge.Close()
}
