package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "loadwire.toml", "[log]\nlevel = \"info\"\n")

	got := make(chan Config, 4)
	w, err := Watch(path, func(cfg Config, err error) {
		if err == nil {
			got <- cfg
		}
	}, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.Log.Level != "warn" {
			t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	path := writeFile(t, "loadwire.toml", "")

	calls := make(chan struct{}, 4)
	w, err := Watch(path, func(Config, error) { calls <- struct{}{} }, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-calls:
		t.Error("reload triggered by unrelated file")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_Close(t *testing.T) {
	path := writeFile(t, "loadwire.toml", "")
	w, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != ErrWatcherClosed {
		t.Errorf("second Close() = %v, want ErrWatcherClosed", err)
	}
}
