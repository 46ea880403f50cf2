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

// Package journal holds per-journal statistical reporting conventions.
// The conventions shape the writer prompts and the final formatting of
// p-values, confidence intervals, and Table 1 entries.
package journal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/statscouncil/pkg/errors"
)

// PValueStyle controls how p-values are rendered.
type PValueStyle string

const (
	// PValueExact reports exact p-values (P = .032).
	PValueExact PValueStyle = "exact"

	// PValueThreshold reports against the significance threshold.
	PValueThreshold PValueStyle = "threshold"
)

// DecimalPlaces sets rounding per statistic class.
type DecimalPlaces struct {
	PValue     int
	Percentage int
	Mean       int
	SD         int
	EffectSize int
	CI         int
}

// Table1Format describes how a baseline characteristics table is reported.
type Table1Format struct {
	ContinuousNormal     string
	ContinuousSkewed     string
	Categorical          string
	TestContinuousNormal string
	TestContinuousSkewed string
	TestCategorical      string
}

// Format holds the reporting conventions for one journal.
type Format struct {
	// Key is the short identifier used in config and CLI flags.
	Key string

	// Name is the full journal name.
	Name string

	// PValueStyle controls p-value rendering.
	PValueStyle PValueStyle

	// PValueThreshold is the significance level, typically 0.05.
	PValueThreshold float64

	// CITemplate formats a confidence interval; %s placeholders receive
	// the rounded lower and upper bounds in order.
	CITemplate string

	// SampleTemplate formats a sample count with percentage; the first
	// %s receives n, the second the rounded percentage.
	SampleTemplate string

	Decimals DecimalPlaces
	Table1   Table1Format

	// EffectSizeRequired indicates the journal expects effect sizes with
	// confidence intervals, not p-values alone.
	EffectSizeRequired bool

	// SoftwareCitation is the boilerplate statistical software sentence.
	SoftwareCitation string

	// SignificanceStatement is the boilerplate alpha statement.
	SignificanceStatement string

	// Notes are journal-specific reviewer expectations passed to the
	// writer model verbatim.
	Notes []string
}

// formats is the registry of supported journals, keyed by lowercase key.
var formats = map[string]*Format{
	"generic": {
		Key:             "generic",
		Name:            "Generic Medical Journal",
		PValueStyle:     PValueExact,
		PValueThreshold: 0.05,
		CITemplate:      "95%% CI: %s to %s",
		SampleTemplate:  "n = %s (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 1, SD: 1, EffectSize: 2, CI: 2},
		Table1: Table1Format{
			ContinuousNormal:     "mean ± SD",
			ContinuousSkewed:     "median (IQR)",
			Categorical:          "n (%)",
			TestContinuousNormal: "t-test",
			TestContinuousSkewed: "Mann-Whitney U",
			TestCategorical:      "chi-square or Fisher exact",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Analyses were performed using Python (version X.X) with pandas, scipy, and statsmodels packages.",
		SignificanceStatement: "Statistical significance was set at α = 0.05 (two-tailed).",
	},
	"jbjs": {
		Key:             "jbjs",
		Name:            "Journal of Bone and Joint Surgery",
		PValueStyle:     PValueThreshold,
		PValueThreshold: 0.05,
		CITemplate:      "(95%% CI, %s-%s)",
		SampleTemplate:  "%s patients (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 1, SD: 1, EffectSize: 2, CI: 1},
		Table1: Table1Format{
			ContinuousNormal:     "mean ± SD",
			ContinuousSkewed:     "median (range)",
			Categorical:          "n (%)",
			TestContinuousNormal: "t-test",
			TestContinuousSkewed: "Mann-Whitney U",
			TestCategorical:      "chi-square",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Statistical analysis was performed using Python statistical packages.",
		SignificanceStatement: "Significance was set at p < 0.05.",
		Notes: []string{
			"JBJS requires effect sizes (OR, RR, HR) with confidence intervals",
			"Table 1 should include demographics stratified by exposure/outcome",
			"Power analysis should be mentioned if sample size is limited",
		},
	},
	"corr": {
		Key:             "corr",
		Name:            "Clinical Orthopaedics and Related Research",
		PValueStyle:     PValueExact,
		PValueThreshold: 0.05,
		CITemplate:      "(95%% CI: %s to %s)",
		SampleTemplate:  "%s (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 1, SD: 1, EffectSize: 2, CI: 2},
		Table1: Table1Format{
			ContinuousNormal:     "mean ± SD",
			ContinuousSkewed:     "median (IQR)",
			Categorical:          "n (%)",
			TestContinuousNormal: "Student t-test",
			TestContinuousSkewed: "Mann-Whitney U test",
			TestCategorical:      "chi-square test or Fisher exact test",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Statistical analyses were conducted using Python (version X.X).",
		SignificanceStatement: "A p-value < 0.05 was considered statistically significant.",
		Notes: []string{
			"CORR emphasizes clinical significance alongside statistical significance",
			"Minimum clinically important difference should be discussed when relevant",
			"Post-hoc power analysis discouraged - report observed effect sizes instead",
		},
	},
	"jamia": {
		Key:             "jamia",
		Name:            "Journal of the American Medical Informatics Association",
		PValueStyle:     PValueExact,
		PValueThreshold: 0.05,
		CITemplate:      "(95%% CI %s–%s)",
		SampleTemplate:  "n = %s (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 2, SD: 2, EffectSize: 3, CI: 3},
		Table1: Table1Format{
			ContinuousNormal:     "mean (SD)",
			ContinuousSkewed:     "median [IQR]",
			Categorical:          "n (%)",
			TestContinuousNormal: "t-test",
			TestContinuousSkewed: "Wilcoxon rank-sum",
			TestCategorical:      "χ² or Fisher exact",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Analyses were performed in Python X.X using pandas (X.X), scipy (X.X), and statsmodels (X.X).",
		SignificanceStatement: "Statistical significance was defined as P < .05.",
		Notes: []string{
			"JAMIA expects thorough reporting of ML model performance metrics",
			"Cross-validation strategy should be clearly described",
			"Feature importance or model interpretability encouraged",
			"Code/data availability statement required",
		},
	},
	"joa": {
		Key:             "joa",
		Name:            "Journal of Arthroplasty",
		PValueStyle:     PValueExact,
		PValueThreshold: 0.05,
		CITemplate:      "(95%% CI, %s-%s)",
		SampleTemplate:  "%s (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 1, SD: 1, EffectSize: 2, CI: 2},
		Table1: Table1Format{
			ContinuousNormal:     "mean ± SD",
			ContinuousSkewed:     "median (range)",
			Categorical:          "n (%)",
			TestContinuousNormal: "t-test",
			TestContinuousSkewed: "Mann-Whitney U",
			TestCategorical:      "chi-square",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Statistical analysis was performed using Python.",
		SignificanceStatement: "P < .05 was considered significant.",
		Notes: []string{
			"JOA frequently requires survival analysis for revision outcomes",
			"Competing risks should be addressed when relevant",
			"Minimum follow-up requirements should be stated",
		},
	},
	"spine": {
		Key:             "spine",
		Name:            "Spine",
		PValueStyle:     PValueExact,
		PValueThreshold: 0.05,
		CITemplate:      "(95%% CI: %s, %s)",
		SampleTemplate:  "n = %s (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 1, SD: 1, EffectSize: 2, CI: 2},
		Table1: Table1Format{
			ContinuousNormal:     "Mean ± SD",
			ContinuousSkewed:     "Median (IQR)",
			Categorical:          "N (%)",
			TestContinuousNormal: "t test",
			TestContinuousSkewed: "Mann-Whitney U test",
			TestCategorical:      "Chi-square test",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Statistical analyses were performed using Python software.",
		SignificanceStatement: "Statistical significance was set at P < 0.05.",
	},
	"ajsm": {
		Key:             "ajsm",
		Name:            "American Journal of Sports Medicine",
		PValueStyle:     PValueExact,
		PValueThreshold: 0.05,
		CITemplate:      "(95%% CI, %s-%s)",
		SampleTemplate:  "%s (%s%%)",
		Decimals:        DecimalPlaces{PValue: 3, Percentage: 1, Mean: 1, SD: 1, EffectSize: 2, CI: 2},
		Table1: Table1Format{
			ContinuousNormal:     "mean ± SD",
			ContinuousSkewed:     "median (IQR)",
			Categorical:          "n (%)",
			TestContinuousNormal: "t-test",
			TestContinuousSkewed: "Mann-Whitney U",
			TestCategorical:      "chi-square or Fisher exact",
		},
		EffectSizeRequired:    true,
		SoftwareCitation:      "Statistical analysis was performed using Python.",
		SignificanceStatement: "Significance was set at P < .05.",
		Notes: []string{
			"AJSM emphasizes functional outcomes and return-to-sport metrics",
			"MCID values should be referenced when available",
			"Subgroup analyses by sport type often expected",
		},
	},
}

// Get returns the format for the given key (case-insensitive).
func Get(key string) (*Format, error) {
	f, ok := formats[strings.ToLower(key)]
	if !ok {
		return nil, &errors.NotFoundError{
			Resource: "journal format",
			ID:       key,
		}
	}
	return f, nil
}

// GetOrGeneric returns the format for the key, falling back to generic
// for unknown keys.
func GetOrGeneric(key string) *Format {
	if f, err := Get(key); err == nil {
		return f
	}
	return formats["generic"]
}

// Keys returns the supported format keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(formats))
	for k := range formats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatPValue renders a p-value per the journal's conventions.
// Values below 0.001 are always reported as "P < .001".
func (f *Format) FormatPValue(p float64) string {
	if p < 0.001 {
		return "P < .001"
	}
	return fmt.Sprintf("P = %.*f", f.Decimals.PValue, p)
}

// FormatCI renders a confidence interval per the journal's template.
func (f *Format) FormatCI(lower, upper float64) string {
	d := f.Decimals.CI
	return fmt.Sprintf(f.CITemplate,
		fmt.Sprintf("%.*f", d, lower),
		fmt.Sprintf("%.*f", d, upper))
}

// FormatSample renders a sample count with percentage.
func (f *Format) FormatSample(n int, pct float64) string {
	return fmt.Sprintf(f.SampleTemplate,
		fmt.Sprintf("%d", n),
		fmt.Sprintf("%.*f", f.Decimals.Percentage, pct))
}

// FormatMeanSD renders a mean with standard deviation.
func (f *Format) FormatMeanSD(mean, sd float64) string {
	d := f.Decimals.Mean
	return fmt.Sprintf("%.*f ± %.*f", d, mean, d, sd)
}

// FormatEffectSize renders an effect size estimate.
func (f *Format) FormatEffectSize(effect float64) string {
	return fmt.Sprintf("%.*f", f.Decimals.EffectSize, effect)
}

// PromptGuidance renders the conventions as prose for the writer prompt.
func (f *Format) PromptGuidance() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Target journal: %s\n", f.Name)
	fmt.Fprintf(&b, "P-value style: %s (threshold %.2f)\n", f.PValueStyle, f.PValueThreshold)
	fmt.Fprintf(&b, "Confidence intervals: %s\n", f.FormatCI(0.82, 1.47))
	fmt.Fprintf(&b, "Table 1: continuous %s or %s, categorical %s\n",
		f.Table1.ContinuousNormal, f.Table1.ContinuousSkewed, f.Table1.Categorical)
	fmt.Fprintf(&b, "Software citation: %s\n", f.SoftwareCitation)
	fmt.Fprintf(&b, "Significance statement: %s\n", f.SignificanceStatement)

	if f.EffectSizeRequired {
		b.WriteString("Effect sizes with confidence intervals are required.\n")
	}
	if len(f.Notes) > 0 {
		b.WriteString("Journal-specific expectations:\n")
		for _, n := range f.Notes {
			fmt.Fprintf(&b, "  - %s\n", n)
		}
	}

	return b.String()
}
