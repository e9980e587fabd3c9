package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"credal-eval/internal/credal"

	"gonum.org/v1/gonum/mat"
)

var ErrEmptyDataset = errors.New("dataset has no rows")

// Dataset is a labelled feature matrix. Row i of Features is labelled
// Labels[i]; Classes holds the sorted distinct labels.
type Dataset struct {
	Names    []string
	Features *mat.Dense
	Labels   []credal.Label
	Classes  []credal.Label
}

func New(names []string, features *mat.Dense, labels []credal.Label) (*Dataset, error) {
	if err := credal.ValidateTrainingData(features, labels); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	_, cols := features.Dims()
	if names == nil {
		names = make([]string, cols)
		for i := range names {
			names[i] = fmt.Sprintf("x%d", i)
		}
	}
	if len(names) != cols {
		return nil, fmt.Errorf("invalid dataset: %d feature names for %d columns", len(names), cols)
	}
	return &Dataset{
		Names:    names,
		Features: features,
		Labels:   labels,
		Classes:  credal.Classes(labels),
	}, nil
}

// Load parses a CSV table with a header row. Every column but the last must
// be numeric; the last column is the class label.
func Load(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("error reading dataset header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("dataset needs at least one feature and a label column, got %d columns", len(header))
	}
	cols := len(header) - 1

	var values []float64
	var labels []credal.Label
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading dataset line %d: %w", line, err)
		}
		for j := 0; j < cols; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: non-numeric feature %q", line, header[j], record[j])
			}
			values = append(values, v)
		}
		label := strings.TrimSpace(record[cols])
		if label == "" {
			return nil, fmt.Errorf("line %d: missing label", line)
		}
		labels = append(labels, credal.Label(label))
	}

	if len(labels) == 0 {
		return nil, ErrEmptyDataset
	}
	return New(header[:cols], mat.NewDense(len(labels), cols, values), labels)
}

func LoadFile(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening dataset: %w", err)
	}
	defer file.Close()

	ds, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("error loading dataset %s: %w", path, err)
	}
	return ds, nil
}

func (d *Dataset) Rows() int {
	rows, _ := d.Features.Dims()
	return rows
}

func (d *Dataset) Cols() int {
	_, cols := d.Features.Dims()
	return cols
}

// Row returns a copy of row i.
func (d *Dataset) Row(i int) []float64 {
	return mat.Row(nil, i, d.Features)
}

// Subset copies the given rows, in order, into a new matrix.
func (d *Dataset) Subset(idx []int) (*mat.Dense, []credal.Label) {
	if len(idx) == 0 {
		return nil, nil
	}
	features := mat.NewDense(len(idx), d.Cols(), nil)
	labels := make([]credal.Label, len(idx))
	for i, row := range idx {
		features.SetRow(i, d.Features.RawRowView(row))
		labels[i] = d.Labels[row]
	}
	return features, labels
}
