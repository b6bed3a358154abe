package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kacperjurak/goimpfit/pkg/models"
)

// parseFile reads whitespace separated "freq re im" lines. Blank lines and
// lines starting with '#' are skipped.
func parseFile(file string) (freqs []float64, impData [][2]float64, err error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return parseData(f, file)
}

func parseData(r io.Reader, name string) (freqs []float64, impData [][2]float64, err error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(l) < 3 {
			return nil, nil, fmt.Errorf("%s:%d: want 3 columns, got %d", name, lineNo, len(l))
		}
		var lineVals [3]float64
		for i := 0; i < 3; i++ {
			val, err := strconv.ParseFloat(l[i], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
			}
			lineVals[i] = val
		}
		freqs = append(freqs, lineVals[0])
		impData = append(impData, [2]float64{lineVals[1], lineVals[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(freqs) == 0 {
		return nil, nil, fmt.Errorf("%s: no data points", name)
	}
	return freqs, impData, nil
}

type table struct {
	name   string
	header []string
	rows   [][]string
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }

// tables renders the report as the fixed set of CSV tables.
func tables(report *models.Report) []table {
	fit := report.Fit

	params := table{name: "params", header: []string{"name", "value", "std_error", "unit"}}
	for i, name := range fit.Names {
		stdErr := "NaN"
		if fit.StdErrors[i] != nil {
			stdErr = ff(*fit.StdErrors[i])
		}
		params.rows = append(params.rows, []string{name, ff(fit.Params[i]), stdErr, fit.Units[i]})
	}

	errs := table{name: "errors", header: []string{"frequency", "real_error", "imag_error"}}
	for _, r := range report.ErrorTable {
		errs.rows = append(errs.rows, []string{ff(r.Frequency), ff(r.RealError), ff(r.ImagError)})
	}

	fitted := table{name: "fitted", header: []string{"frequency", "z_fit_real", "z_fit_imag"}}
	for i, f := range fit.Frequencies {
		fitted.rows = append(fitted.rows, []string{ff(f), ff(fit.Predicted[i][0]), ff(fit.Predicted[i][1])})
	}

	summary := table{
		name:   "fit_summary",
		header: []string{"circuit", "rmse", "objective", "converged", "method", "trials"},
		rows: [][]string{{
			report.Circuit, ff(fit.RMSE), ff(fit.Objective),
			strconv.FormatBool(fit.Converged), fit.Method, strconv.Itoa(fit.Trials),
		}},
	}

	out := []table{params, errs, fitted, summary}
	kk := report.KK
	if kk == nil {
		return out
	}

	kkSummary := table{
		name:   "kk_summary",
		header: []string{"M", "mu", "chi_squared", "validated"},
		rows:   [][]string{{strconv.Itoa(kk.M), ff(kk.Mu), ff(kk.ChiSquared), strconv.FormatBool(kk.Validated)}},
	}

	kkTable := table{name: "kk", header: []string{"frequency", "z_real", "z_imag", "zkk_real", "zkk_imag", "res_real", "res_imag"}}
	for i, f := range kk.Frequencies {
		z := kk.Measured[i]
		kkTable.rows = append(kkTable.rows, []string{
			ff(f), ff(z[0]), ff(z[1]),
			ff(kk.Predicted[i][0]), ff(kk.Predicted[i][1]),
			ff(kk.ResidualsReal[i]), ff(kk.ResidualsImag[i]),
		})
	}

	tc := table{name: "time_constants", header: []string{"tau", "resistance"}}
	for i, tau := range kk.TimeConstants {
		tc.rows = append(tc.rows, []string{ff(tau), ff(kk.Resistances[i])})
	}

	return append(out, kkSummary, kkTable, tc)
}

func writeTable(w io.Writer, t table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return err
	}
	return cw.Error()
}

// writeTables prints every table to w, each preceded by a "# name" line.
func writeTables(w io.Writer, report *models.Report) error {
	for i, t := range tables(report) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "# %s\n", t.name)
		if err := writeTable(w, t); err != nil {
			return err
		}
	}
	return nil
}

// writeTableFiles writes one <name>.csv per table into dir.
func writeTableFiles(dir string, report *models.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, t := range tables(report) {
		f, err := os.Create(filepath.Join(dir, t.name+".csv"))
		if err != nil {
			return err
		}
		if err := writeTable(f, t); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", t.name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
