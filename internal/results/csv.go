package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"credal-eval/internal/crossval"

	"github.com/gocarina/gocsv"
)

// CSVSink appends rows to a local file. The header is written only when the
// file is new or empty, so an interrupted sweep can be resumed into the same
// file.
type CSVSink struct {
	mu          sync.Mutex
	file        *os.File
	wroteHeader bool
}

func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening output file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("error reading output file info: %w", err)
	}

	return &CSVSink{file: file, wroteHeader: info.Size() > 0}, nil
}

func (s *CSVSink) Write(ctx context.Context, summary crossval.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("csv sink is closed")
	}

	rows := []Row{rowOf(summary)}
	var err error
	if s.wroteHeader {
		err = gocsv.MarshalWithoutHeaders(&rows, s.file)
	} else {
		err = gocsv.Marshal(&rows, s.file)
	}
	if err != nil {
		return fmt.Errorf("error writing result row: %w", err)
	}
	s.wroteHeader = true

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("error flushing result row: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadCSV parses a table written by CSVSink.
func ReadCSV(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []Row
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("error parsing result table: %w", err)
	}
	return rows, nil
}
