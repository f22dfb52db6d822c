package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/windturbine/pulse/coordinator"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	triggers []coordinator.Trigger
	active   int

	// like the coordinator, a submitted run counts as active at once
	activate bool
	delay    time.Duration
}

func (f *fakeSubmitter) Submit(ctx context.Context, trig coordinator.Trigger) (string, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trig)
	if f.activate {
		f.active++
	}
	return "run-test", nil
}

func (f *fakeSubmitter) ActiveRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSubmitter) setActive(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = n
}

func (f *fakeSubmitter) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func newTestWatcher(t *testing.T, path string, sub Submitter) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, sub, zaptest.NewLogger(t).Sugar(), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestWatcher_SubmitsOnceForBurst(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop")
	path := filepath.Join(dir, "sensors.json")
	sub := &fakeSubmitter{}
	newTestWatcher(t, path, sub)

	_, err := os.Stat(dir)
	require.NoError(t, err, "watcher creates the artifact directory")

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))

	require.Eventually(t, func() bool { return sub.submitted() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, sub.submitted())

	sub.mu.Lock()
	trig := sub.triggers[0]
	sub.mu.Unlock()
	assert.Equal(t, SourceWatcher, trig.Source)
	assert.Equal(t, path, trig.Detail)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	newTestWatcher(t, filepath.Join(dir, "sensors.json"), sub)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sub.submitted())
}

func TestWatcher_SkipsWhileRunActive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.json")
	sub := &fakeSubmitter{}
	sub.setActive(1)
	newTestWatcher(t, path, sub)

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sub.submitted())
}

func TestWatcher_ExistingArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	sub := &fakeSubmitter{}
	newTestWatcher(t, path, sub)
	require.Eventually(t, func() bool { return sub.submitted() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_StopCancelsPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.json")
	sub := &fakeSubmitter{}

	w, err := NewWatcher(path, sub, nil, WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	w.Start()

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "stop is idempotent")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, sub.submitted())
}

func TestWatcher_ConcurrentFiresSubmitOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.json")
	sub := &fakeSubmitter{activate: true, delay: 20 * time.Millisecond}
	w := newTestWatcher(t, path, sub)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.fire()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sub.submitted())
}
