// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dataset loads a deidentified CSV into memory and profiles it.
// The profile feeds the council prompts; the raw bytes feed the sandbox.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/statscouncil/pkg/errors"
)

// ColumnType is the inferred type of a CSV column.
type ColumnType string

const (
	// TypeNumeric means every non-empty cell parses as a float.
	TypeNumeric ColumnType = "numeric"

	// TypeCategorical means at least one non-empty cell is non-numeric.
	TypeCategorical ColumnType = "categorical"
)

// Column holds the profile of a single CSV column.
type Column struct {
	// Name is the header label.
	Name string

	// Type is the inferred column type.
	Type ColumnType

	// NullCount is the number of empty cells.
	NullCount int

	// UniqueCount is the number of distinct non-empty values.
	UniqueCount int

	// Mean, Std, Min, Max are populated for numeric columns only.
	Mean float64
	Std  float64
	Min  float64
	Max  float64

	// TopValues holds the most frequent values for categorical columns,
	// most frequent first, at most three entries.
	TopValues []ValueCount
}

// ValueCount pairs a categorical value with its frequency.
type ValueCount struct {
	Value string
	Count int
}

// Dataset is a loaded CSV with its column profiles.
type Dataset struct {
	// Path is the source file path, if loaded from disk.
	Path string

	// Rows is the number of data rows (header excluded).
	Rows int

	// Columns holds per-column profiles in header order.
	Columns []Column

	// records holds the raw cell values, one slice per row.
	records [][]string
}

// Load reads and profiles a CSV file from disk.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "dataset",
			Message:    fmt.Sprintf("cannot open %s: %v", path, err),
			Suggestion: "Check that the file exists and is readable",
		}
	}
	defer f.Close()

	ds, err := Read(f)
	if err != nil {
		return nil, err
	}
	ds.Path = path
	return ds, nil
}

// Read reads and profiles CSV data from a reader.
func Read(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "dataset",
			Message:    fmt.Sprintf("malformed CSV: %v", err),
			Suggestion: "Check the file for unbalanced quotes or ragged rows",
		}
	}
	if len(records) == 0 {
		return nil, &errors.ValidationError{
			Field:      "dataset",
			Message:    "CSV file is empty",
			Suggestion: "Provide a CSV with a header row and at least one data row",
		}
	}

	header := records[0]
	rows := records[1:]
	if len(rows) == 0 {
		return nil, &errors.ValidationError{
			Field:      "dataset",
			Message:    "CSV has a header but no data rows",
			Suggestion: "Provide a CSV with at least one data row",
		}
	}

	ds := &Dataset{
		Rows:    len(rows),
		records: rows,
	}

	for i, name := range header {
		ds.Columns = append(ds.Columns, profileColumn(strings.TrimSpace(name), columnValues(rows, i)))
	}

	return ds, nil
}

// columnValues extracts the cells of column idx, tolerating short rows.
func columnValues(rows [][]string, idx int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			values = append(values, strings.TrimSpace(row[idx]))
		} else {
			values = append(values, "")
		}
	}
	return values
}

// profileColumn infers a column's type and computes its statistics.
func profileColumn(name string, values []string) Column {
	col := Column{Name: name}

	var nums []float64
	counts := make(map[string]int)
	numeric := true

	for _, v := range values {
		if v == "" {
			col.NullCount++
			continue
		}
		counts[v]++
		if numeric {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				numeric = false
			} else {
				nums = append(nums, f)
			}
		}
	}

	col.UniqueCount = len(counts)

	if numeric && len(nums) > 0 {
		col.Type = TypeNumeric
		col.Mean, col.Std = meanStd(nums)
		col.Min, col.Max = minMax(nums)
	} else {
		col.Type = TypeCategorical
		col.TopValues = topValues(counts, 3)
	}

	return col
}

// meanStd computes the mean and sample standard deviation.
func meanStd(nums []float64) (mean, std float64) {
	for _, n := range nums {
		mean += n
	}
	mean /= float64(len(nums))

	if len(nums) < 2 {
		return mean, 0
	}
	var ss float64
	for _, n := range nums {
		d := n - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(nums)-1))
}

func minMax(nums []float64) (min, max float64) {
	min, max = nums[0], nums[0]
	for _, n := range nums[1:] {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max
}

// topValues returns the n most frequent values, ties broken alphabetically
// so the output is deterministic.
func topValues(counts map[string]int, n int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ColumnNames returns the header labels in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether a column with the given name exists.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// NullPercent returns the percentage of empty cells in a column.
func (c *Column) NullPercent(rows int) float64 {
	if rows == 0 {
		return 0
	}
	return float64(c.NullCount) / float64(rows) * 100
}

// Summary renders a concise profile of the dataset for model context.
// Raw cell values never appear here except categorical top values; the
// full data only ever reaches the execution sandbox.
func (d *Dataset) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Dataset: %d rows x %d columns\n", d.Rows, len(d.Columns))
	b.WriteString("\nColumns:\n")

	for _, col := range d.Columns {
		var stats string
		if col.Type == TypeNumeric {
			stats = fmt.Sprintf("mean=%.2f, std=%.2f, range=[%g, %g]", col.Mean, col.Std, col.Min, col.Max)
		} else {
			parts := make([]string, len(col.TopValues))
			for i, tv := range col.TopValues {
				parts[i] = fmt.Sprintf("%s: %d", tv.Value, tv.Count)
			}
			stats = fmt.Sprintf("top values: {%s}", strings.Join(parts, ", "))
		}
		fmt.Fprintf(&b, "  - %s (%s): %d unique, %.1f%% null, %s\n",
			col.Name, col.Type, col.UniqueCount, col.NullPercent(d.Rows), stats)
	}

	return b.String()
}

// WriteCSV writes the dataset back out as CSV, used when uploading the
// data to the execution sandbox.
func (d *Dataset) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(d.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range d.records {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
