package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/shelf-feed/models"
)

// Stdout is the filename that selects standard output.
const Stdout = "-"

var csvHeader = []string{"title", "author", "finished_at", "finished_ts", "rating", "review", "link"}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	out    *output
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := openOutput(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv output: %w", err)
	}

	writer := csv.NewWriter(out.w)
	if err := writer.Write(csvHeader); err != nil {
		out.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		out.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		out:    out,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []models.BookRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		row := []string{
			r.Title,
			r.Author,
			r.FinishedAt,
			strconv.FormatInt(r.FinishedTS, 10),
			r.Rating.String(),
			r.Review,
			r.Link,
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the output.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.out.Close()
}

// Validate ensures a file output has content besides the header.
func (cw *CSVWriter) Validate() error {
	return cw.out.validate("csv")
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	out     *output
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := openOutput(filename)
	if err != nil {
		return nil, fmt.Errorf("create json output: %w", err)
	}

	buffer := bufio.NewWriter(out.w)
	return &JSONWriter{
		out:     out,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []models.BookRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the output.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.out.Close()
}

// Validate ensures a file output has data.
func (jw *JSONWriter) Validate() error {
	return jw.out.validate("json")
}

// output is either a created file or standard output, which is never closed.
type output struct {
	w    io.Writer
	file *os.File
}

func openOutput(filename string) (*output, error) {
	if filename == "" || filename == Stdout {
		return &output{w: os.Stdout}, nil
	}
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &output{w: f, file: f}, nil
}

func (o *output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

func (o *output) validate(kind string) error {
	if o.file == nil {
		return nil
	}
	info, err := o.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
