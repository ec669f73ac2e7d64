package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	s, err := Load("", discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	o := s.Get()
	if !o.CorrectPTS {
		t.Error("CorrectPTS default = false, want true")
	}
	if o.AOBuffer != 0.2 {
		t.Errorf("AOBuffer default = %v, want 0.2", o.AOBuffer)
	}
	if o.VideoReverseBytes != 256<<20 || o.AudioReverseBytes != 64<<20 {
		t.Errorf("reverse defaults = %d/%d", o.VideoReverseBytes, o.AudioReverseBytes)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tempo.yaml")
	body := "correct-pts: false\nfps: 30\naudio-spdif: ac3,dts\nao: 'null'\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	o := s.Get()
	if o.CorrectPTS {
		t.Error("CorrectPTS = true, want false from file")
	}
	if o.FPS != 30 {
		t.Errorf("FPS = %v, want 30", o.FPS)
	}
	if o.AudioSPDIF != "ac3,dts" {
		t.Errorf("AudioSPDIF = %q", o.AudioSPDIF)
	}
	// Untouched fields keep defaults.
	if o.AOBuffer != 0.2 {
		t.Errorf("AOBuffer = %v, want default 0.2", o.AOBuffer)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tempo.yaml")
	if err := os.WriteFile(path, []byte("ao-buffer: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, discardLogger()); err == nil {
		t.Fatal("Load accepted a negative ao-buffer")
	}
}

func TestCache_UpdateTracksGenerations(t *testing.T) {
	t.Parallel()

	s := NewStore(Default(), discardLogger())
	c := s.Cache()
	if c.Update() {
		t.Error("fresh cache reported a change")
	}
	if !c.Get().CorrectPTS {
		t.Error("cache snapshot missing defaults")
	}

	next := Default()
	next.CorrectPTS = false
	if err := s.Set(next); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !c.Update() {
		t.Fatal("cache missed a published change")
	}
	if c.Get().CorrectPTS {
		t.Error("cache still sees old snapshot")
	}
	if c.Update() {
		t.Error("cache reported a change twice")
	}

	// A second cache sees the same store independently.
	c2 := s.Cache()
	if c2.Update() {
		t.Error("new cache starts dirty")
	}
	if c2.Get().CorrectPTS {
		t.Error("new cache got stale snapshot")
	}
}

func TestStore_WatchReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tempo.yaml")
	if err := os.WriteFile(path, []byte("fps: 24\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, path) }()

	// Let the watcher install before rewriting.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("fps: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for s.Get().FPS != 60 {
		select {
		case <-deadline:
			t.Fatal("watcher did not pick up the rewrite within 2s")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Invalid content keeps the last good snapshot.
	if err := os.WriteFile(path, []byte("ao-buffer: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := s.Get().FPS; got != 60 {
		t.Errorf("FPS after bad reload = %v, want 60", got)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}
