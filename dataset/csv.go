// Package dataset - CSV-Datenquelle
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ollama/estimator/ml"
)

// CSVOptions describe the layout of a CSV file.
type CSVOptions struct {
	// Header skips the first record.
	Header bool

	// LabelColumn is the index of the label. A negative value selects the
	// last column. Set NoLabel for unlabeled inference data.
	LabelColumn int
	NoLabel     bool

	Comma rune
}

// ReadCSV returns a dataset of Examples read from path. The file is
// reopened on every pass. A byte order mark selects UTF-16, otherwise the
// file is read as UTF-8.
func ReadCSV(path string, opts CSVOptions) ml.Dataset {
	return ml.DatasetFunc(func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			f, err := os.Open(path)
			if err != nil {
				yield(nil, err)
				return
			}
			defer f.Close()

			tr := unicode.BOMOverride(unicode.UTF8.NewDecoder())
			r := csv.NewReader(transform.NewReader(f, tr))
			r.ReuseRecord = true
			if opts.Comma != 0 {
				r.Comma = opts.Comma
			}

			for line := 1; ; line++ {
				record, err := r.Read()
				if errors.Is(err, io.EOF) {
					return
				} else if err != nil {
					yield(nil, fmt.Errorf("%s: %w", path, err))
					return
				}

				if line == 1 && opts.Header {
					continue
				}

				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}

				e, err := parseRecord(record, opts)
				if err != nil {
					yield(nil, fmt.Errorf("%s:%d: %w", path, line, err))
					return
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	})
}

func parseRecord(record []string, opts CSVOptions) (Example, error) {
	label := -1
	if !opts.NoLabel {
		label = opts.LabelColumn
		if label < 0 {
			label = len(record) - 1
		}
		if label >= len(record) {
			return Example{}, fmt.Errorf("%w: label column %d of %d", ml.ErrInvalidArgument, label, len(record))
		}
	}

	var e Example
	for i, field := range record {
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return Example{}, fmt.Errorf("%w: column %d: %v", ml.ErrInvalidArgument, i, err)
		}
		if i == label {
			e.Label = float32(v)
		} else {
			e.Features = append(e.Features, float32(v))
		}
	}
	return e, nil
}
