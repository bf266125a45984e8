// Package metrics is the scalar sink the trainer logs into: named scalar
// series keyed by training step, recorded as JSONL, with a reward curve
// rendered on close.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type Sink interface {
	AddScalar(name string, value float64, step int)
	Close() error
}

type scalarEntry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// JSONLSink appends every scalar to scalars.jsonl under its directory and
// keeps the named plot series in memory for the curve rendered on Close.
type JSONLSink struct {
	dir      string
	file     *os.File
	enc      *json.Encoder
	plotKeys map[string]bool
	series   map[string]plotter.XYs

	// first write failure, surfaced on Close
	writeErr error
}

var _ Sink = &JSONLSink{}

// NewJSONLSink opens a sink under dir. plotKeys names the scalar series to
// render as PNG curves when the sink closes.
func NewJSONLSink(dir string, plotKeys ...string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path.Join(dir, "scalars.jsonl"), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(plotKeys))
	for _, k := range plotKeys {
		keys[k] = true
	}
	return &JSONLSink{
		dir:      dir,
		file:     f,
		enc:      json.NewEncoder(f),
		plotKeys: keys,
		series:   make(map[string]plotter.XYs),
	}, nil
}

func (s *JSONLSink) AddScalar(name string, value float64, step int) {
	if err := s.enc.Encode(scalarEntry{Name: name, Value: value, Step: step}); err != nil && s.writeErr == nil {
		s.writeErr = fmt.Errorf("recording scalar %s: %w", name, err)
	}
	if s.plotKeys[name] {
		s.series[name] = append(s.series[name], plotter.XY{X: float64(step), Y: value})
	}
}

func (s *JSONLSink) Close() error {
	var errs []error
	if s.writeErr != nil {
		errs = append(errs, s.writeErr)
	}
	for name, points := range s.series {
		if len(points) < 2 {
			continue
		}
		p := plot.New()
		p.Title.Text = name
		p.X.Label.Text = "Steps"
		p.Y.Label.Text = name
		line, err := plotter.NewLine(points)
		if err != nil {
			errs = append(errs, fmt.Errorf("building curve %s: %w", name, err))
			continue
		}
		line.Color = plotutil.Color(0)
		p.Add(line)
		out := path.Join(s.dir, fmt.Sprintf("%s.png", sanitize(name)))
		if err := p.Save(8*vg.Inch, 8*vg.Inch, out); err != nil {
			errs = append(errs, fmt.Errorf("rendering curve %s: %w", name, err))
		}
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sanitize(name string) string {
	out := []rune(name)
	for i, r := range out {
		if r == '/' || r == ' ' {
			out[i] = '_'
		}
	}
	return string(out)
}

// NopSink discards everything; non-zero ranks log nothing.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) AddScalar(string, float64, int) {}
func (NopSink) Close() error                   { return nil }
