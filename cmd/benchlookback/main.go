// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Benchlookback keeps a history of benchmark values per commit and
// reports how far a commit's values sit from their history.
//
// Usage:
//
//	benchlookback [-db driver:dsn] record -commit sha [-time t] -context name [results.json...]
//	benchlookback [-db driver:dsn] analyze -commit sha [-n 20] [-z 2] [-fail]
//
// Record stores the means of the benchmark results in the given files
// (JSON arrays of storage API benchmark results; standard input if no
// files are given) as observations of commit sha measured at time t in
// context name, usually the hardware name. Failed results are skipped.
//
// Analyze computes, for every observation of commit sha, its z-score
// against up to n prior observations of the same case and context,
// after removing historical outliers, and prints a table with the
// verdict. With -fail, it exits with status 1 if any case regressed.
//
// The -db flag selects the history database; the driver is sqlite3
// (the default) or mysql.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/benchalert/benchalert/benchcmp"
	"github.com/benchalert/benchalert/benchmath"
	"github.com/benchalert/benchalert/internal/logging"
	"github.com/benchalert/benchalert/storage"
	"github.com/benchalert/benchalert/storage/db"
	_ "github.com/benchalert/benchalert/storage/db/sqlite3"
)

// DefaultLookback is the default number of prior observations a
// value is compared against.
const DefaultLookback = 20

func main() {
	log.SetPrefix("benchlookback: ")
	log.SetFlags(0)
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `Usage:
	benchlookback [-db driver:dsn] record -commit sha [-time t] -context name [results.json...]
	benchlookback [-db driver:dsn] analyze -commit sha [-n 20] [-z 2] [-fail]
`)
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("benchlookback", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbFlag := fs.String("db", "sqlite3:benchlookback.db", "history database as `driver:dsn`")
	logLevel := fs.String("log-level", "warn", "log `level`")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 2
	}

	logger, err := logging.NewWriter(stderr, *logLevel, "console")
	if err != nil {
		fmt.Fprintf(stderr, "benchlookback: %v\n", err)
		return 2
	}
	defer logger.Sync()

	driver, dsn, ok := strings.Cut(*dbFlag, ":")
	if !ok {
		fmt.Fprintf(stderr, "benchlookback: -db %q is not of the form driver:dsn\n", *dbFlag)
		return 2
	}
	d, err := db.Open(driver, dsn)
	if err != nil {
		fmt.Fprintf(stderr, "benchlookback: opening %s database: %v\n", driver, err)
		return 1
	}
	defer d.Close()

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "record":
		err = record(ctx, d, cmdArgs, stdin, stdout, stderr, logger)
	case "analyze":
		err = analyze(ctx, d, cmdArgs, stdout, stderr, logger)
	default:
		fmt.Fprintf(stderr, "benchlookback: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	var uerr usageError
	switch {
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "benchlookback %s: %v\n", cmd, err)
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "benchlookback %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func record(ctx context.Context, d *db.DB, args []string, stdin io.Reader, stdout, stderr io.Writer, logger *zap.Logger) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	fs.SetOutput(stderr)
	commit := fs.String("commit", "", "commit `sha` the results measured")
	when := fs.String("time", "", "commit `time` in RFC 3339 format (default now)")
	machine := fs.String("context", "", "`name` of the machine the results were measured on")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	if *commit == "" || *machine == "" {
		return usageError{fmt.Errorf("-commit and -context are required")}
	}
	t := time.Now().UTC()
	if *when != "" {
		var err error
		if t, err = time.Parse(time.RFC3339, *when); err != nil {
			return usageError{err}
		}
	}

	var results []storage.BenchmarkResult
	readFile := func(name string, r io.Reader) error {
		var rs []storage.BenchmarkResult
		if err := json.NewDecoder(r).Decode(&rs); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		results = append(results, rs...)
		return nil
	}
	if fs.NArg() == 0 {
		if err := readFile("stdin", stdin); err != nil {
			return err
		}
	}
	for _, name := range fs.Args() {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		err = readFile(name, f)
		f.Close()
		if err != nil {
			return err
		}
	}

	var obs []db.Observation
	for i := range results {
		r := &results[i]
		m := r.Measurement()
		if r.HasError() || m == nil {
			logger.Warn("skipping result without a value", zap.String("result", r.ID), zap.String("case", r.Case().Key()))
			continue
		}
		obs = append(obs, db.Observation{
			CommitSHA:  *commit,
			CommitTime: t,
			Context:    *machine,
			CaseKey:    r.Case().Key(),
			Unit:       m.Unit,
			Value:      m.Value,
		})
	}
	if err := d.Insert(ctx, obs...); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "recorded %d observations of commit %s\n", len(obs), *commit)
	return nil
}

func analyze(ctx context.Context, d *db.DB, args []string, stdout, stderr io.Writer, logger *zap.Logger) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	commit := fs.String("commit", "", "analyze commit `sha`")
	n := fs.Int("n", DefaultLookback, "compare against up to `n` prior observations")
	z := fs.Float64("z", benchcmp.DefaultDeviationZ, "regression z-score `threshold`")
	fail := fs.Bool("fail", false, "exit with status 1 if any case regressed")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	if *commit == "" {
		return usageError{fmt.Errorf("-commit is required")}
	}

	obs, err := d.CommitObservations(ctx, *commit)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return fmt.Errorf("no observations of commit %s", *commit)
	}

	opts := benchcmp.DefaultOptions()
	opts.DeviationZ = *z
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "context\tcase\tvalue\tmean\tchange\tz\tverdict")
	regressions := 0
	for _, o := range obs {
		r, err := lookback(ctx, d, o, *n, opts, logger)
		if err != nil {
			return err
		}
		f := r.Formatted()
		verdict := "ok"
		switch {
		case f.ContenderZRegression:
			verdict = "regression"
			regressions++
		case f.ContenderZImprovement:
			verdict = "improvement"
		case f.ContenderZ == "":
			verdict = "no history"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n", o.Context, f.Case, f.Contender, f.Unit, f.Baseline, f.Change, f.ContenderZ, verdict)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if *fail && regressions > 0 {
		return fmt.Errorf("%d regression(s) in commit %s", regressions, *commit)
	}
	return nil
}

// lookback compares o against the mean of its history.
func lookback(ctx context.Context, d *db.DB, o db.Observation, n int, opts benchcmp.Options, logger *zap.Logger) (benchcmp.Result, error) {
	hist, err := d.Lookback(ctx, o.Key(), o.CommitTime, n)
	if err != nil {
		return benchcmp.Result{}, err
	}
	contender := &benchcmp.Measurement{Value: o.Value, Unit: o.Unit}
	var baseline *benchcmp.Measurement
	zs, err := benchmath.LookbackZ(hist, o.Value, benchmath.DefaultOutlierOptions)
	for _, w := range zs.Outliers.Warnings {
		logger.Warn("outlier filter", zap.String("case", o.CaseKey), zap.String("context", o.Context), zap.Error(w))
	}
	if len(zs.Outliers.Removed) > 0 {
		logger.Info("removed historical outliers", zap.String("case", o.CaseKey), zap.Float64s("values", zs.Outliers.Removed))
	}
	switch {
	case err == nil:
		zv := zs.Z
		contender.Z = &zv
		baseline = &benchcmp.Measurement{Value: zs.Mean, Unit: o.Unit}
	case errors.Is(err, benchmath.ErrTooFewObservations), errors.Is(err, benchmath.ErrZeroVariance):
		logger.Info("no z-score", zap.String("case", o.CaseKey), zap.Int("history", len(hist)), zap.Error(err))
	default:
		return benchcmp.Result{}, err
	}
	r := benchcmp.Compare(baseline, contender, opts)
	r.Case = benchcmp.Case{Name: o.CaseKey}
	return r, nil
}
