package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"testing"
)

func TestJSONLSinkWritesEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatal(err)
	}

	s.AddScalar("reward", 1.5, 100)
	s.AddScalar("perf/fps", 2000, 100)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path.Join(dir, "scalars.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []scalarEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e scalarEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, expected 2", len(entries))
	}
	if entries[0].Name != "reward" || entries[0].Value != 1.5 || entries[0].Step != 100 {
		t.Errorf("first entry = %+v", entries[0])
	}
}

func TestJSONLSinkRendersPlot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONLSink(dir, "reward")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		s.AddScalar("reward", float64(i), i*100)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path.Join(dir, "reward.png")); err != nil {
		t.Errorf("reward curve was not rendered: %v", err)
	}
}

func TestCloseReportsWriteFailure(t *testing.T) {
	s, err := NewJSONLSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// sever the underlying file so the next encode fails
	s.file.Close()
	s.AddScalar("reward", 1.0, 1)

	if err := s.Close(); err == nil {
		t.Errorf("close swallowed a failed scalar write")
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("perf/fps"); got != "perf_fps" {
		t.Errorf("sanitize = %q", got)
	}
}
