package audio

import (
	"context"
	"os"
	"testing"
	"time"
)

// fakeCommandRunner records every invocation and extracts a chunk file
// whose contents are just the formatted time range, so tests can assert on
// chunk boundaries without shelling out to ffmpeg.
type fakeCommandRunner struct {
	calls [][]string
	fail  bool
}

func (f *fakeCommandRunner) CombinedOutput(_ context.Context, name string, args []string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail {
		return []byte("boom"), errFakeExtract
	}
	dst := args[len(args)-1]
	if err := os.WriteFile(dst, []byte("chunk"), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

var errFakeExtract = &fakeErr{"extract failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

type fakeTempDirCreator struct{ dir string }

func (f fakeTempDirCreator) MkdirTemp(string, string) (string, error) { return f.dir, nil }

type fakeFileRemover struct{}

func (fakeFileRemover) Remove(string) error    { return nil }
func (fakeFileRemover) RemoveAll(string) error { return nil }

func testDeps(t *testing.T, cmd *fakeCommandRunner) chunkerDeps {
	t.Helper()
	return chunkerDeps{
		cmd:     cmd,
		tempDir: fakeTempDirCreator{dir: t.TempDir()},
		files:   fakeFileRemover{},
		statter: osFileStatter{},
	}
}

func TestSplit_DisabledReturnsSingleChunk(t *testing.T) {
	descriptor := Descriptor{Path: "/in.wav", Duration: 20 * time.Minute}
	opts := ChunkingOptions{Enabled: false}

	chunks, err := Split(context.Background(), descriptor, opts, chunkerDeps{})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0].Path != descriptor.Path || chunks[0].EndTime != descriptor.Duration {
		t.Fatalf("Split() = %+v, want single whole-file chunk", chunks)
	}
}

func TestSplit_ShortAudioReturnsSingleChunk(t *testing.T) {
	descriptor := Descriptor{Path: "/in.wav", Duration: 2 * time.Minute}
	opts := ChunkingOptions{Enabled: true, MinDuration: 5 * time.Minute, Chunk: 10 * time.Minute}

	chunks, err := Split(context.Background(), descriptor, opts, chunkerDeps{})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0].EndTime != descriptor.Duration {
		t.Fatalf("Split() = %+v, want single whole-file chunk", chunks)
	}
}

func TestFixedWindowSplitter_BasicWindows(t *testing.T) {
	cmd := &fakeCommandRunner{}
	deps := testDeps(t, cmd)

	descriptor := Descriptor{Path: "/in.wav", Duration: 25 * time.Minute}
	opts := ChunkingOptions{
		Enabled:     true,
		Chunk:       10 * time.Minute,
		Overlap:     30 * time.Second,
		MinDuration: 1 * time.Minute,
		FFmpegPath:  "ffmpeg",
	}

	chunks, err := Split(context.Background(), descriptor, opts, deps)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	// step = 10m - 30s = 9m30s. starts: 0, 9m30s, 19m.
	// chunk 0: 0-10m. chunk 1: 9m30s-19m30s. chunk 2 (final): 19m-25m = 6m,
	// which is >= absorbThreshold (5m), so it is NOT absorbed.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].StartTime != 0 || chunks[0].EndTime != 10*time.Minute {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	last := chunks[len(chunks)-1]
	if last.EndTime != descriptor.Duration {
		t.Errorf("last chunk does not end at source duration: %+v", last)
	}
}

func TestFixedWindowSplitter_AbsorbsShortFinalChunk(t *testing.T) {
	cmd := &fakeCommandRunner{}
	deps := testDeps(t, cmd)

	// duration 22m, chunk 10m, overlap 0 -> step 10m. starts: 0,10m,20m.
	// final chunk: 20m-22m = 2m < absorbThreshold(5m) -> absorbed into
	// previous, producing exactly 2 chunks.
	descriptor := Descriptor{Path: "/in.wav", Duration: 22 * time.Minute}
	opts := ChunkingOptions{
		Enabled:     true,
		Chunk:       10 * time.Minute,
		Overlap:     0,
		MinDuration: 1 * time.Minute,
		FFmpegPath:  "ffmpeg",
	}

	chunks, err := Split(context.Background(), descriptor, opts, deps)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (final absorbed): %+v", len(chunks), chunks)
	}
	if chunks[1].EndTime != descriptor.Duration {
		t.Errorf("absorbed chunk does not extend to source duration: %+v", chunks[1])
	}
	if chunks[1].StartTime != 10*time.Minute {
		t.Errorf("absorbed chunk start changed: %+v", chunks[1])
	}
}

func TestFixedWindowSplitter_PropagatesExtractError(t *testing.T) {
	cmd := &fakeCommandRunner{fail: true}
	deps := testDeps(t, cmd)

	descriptor := Descriptor{Path: "/in.wav", Duration: 20 * time.Minute}
	opts := ChunkingOptions{Enabled: true, Chunk: 10 * time.Minute, MinDuration: time.Minute, FFmpegPath: "ffmpeg"}

	_, err := Split(context.Background(), descriptor, opts, deps)
	if err == nil {
		t.Fatal("Split() error = nil, want error from failed extraction")
	}
}

func TestFixedWindowSplitter_RespectsCancellation(t *testing.T) {
	cmd := &fakeCommandRunner{}
	deps := testDeps(t, cmd)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	descriptor := Descriptor{Path: "/in.wav", Duration: 20 * time.Minute}
	opts := ChunkingOptions{Enabled: true, Chunk: 10 * time.Minute, MinDuration: time.Minute, FFmpegPath: "ffmpeg"}

	_, err := Split(ctx, descriptor, opts, deps)
	if err == nil {
		t.Fatal("Split() error = nil, want context.Canceled")
	}
}
