package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/predict"
	"github.com/xtxerr/vigil/internal/threshold"
)

// jsonlFile appends one JSON document per line. Writers are serialized.
type jsonlFile struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	closed bool
}

func openJSONL(path string) (*jsonlFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &jsonlFile{path: path, f: f}, nil
}

func (j *jsonlFile) append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewMalformed("sink record", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.ErrClosed
	}
	if _, err := j.f.Write(data); err != nil {
		return errors.NewTransient("write "+j.path, err)
	}
	return nil
}

func (j *jsonlFile) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.f.Close()
}

// JSONLAlertSink appends alerts to a JSON-lines file.
type JSONLAlertSink struct {
	file *jsonlFile
}

// NewJSONLAlertSink opens path for appending, creating it if needed.
func NewJSONLAlertSink(path string) (*JSONLAlertSink, error) {
	f, err := openJSONL(path)
	if err != nil {
		return nil, err
	}
	return &JSONLAlertSink{file: f}, nil
}

func (s *JSONLAlertSink) WriteAlert(ctx context.Context, a threshold.Alert) error {
	return s.file.append(a)
}

func (s *JSONLAlertSink) Close() error {
	return s.file.close()
}

// JSONLForecastSink appends forecasts to a JSON-lines file.
type JSONLForecastSink struct {
	file *jsonlFile
}

// NewJSONLForecastSink opens path for appending, creating it if needed.
func NewJSONLForecastSink(path string) (*JSONLForecastSink, error) {
	f, err := openJSONL(path)
	if err != nil {
		return nil, err
	}
	return &JSONLForecastSink{file: f}, nil
}

func (s *JSONLForecastSink) WriteForecast(ctx context.Context, f predict.Forecast) error {
	return s.file.append(f)
}

func (s *JSONLForecastSink) Close() error {
	return s.file.close()
}

// ReadJSONL decodes every line of a JSON-lines file.
// Blank lines are skipped; a line that does not decode is an error.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			return out, errors.NewMalformed(fmt.Sprintf("%s line %d", path, line), err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}
