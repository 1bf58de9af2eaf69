// Command miso loads a table through the importer and parser registry, derives a view and
// products from it, and prints them. With -watch it keeps refetching and prints product
// values as they change.
//
//	miso -importer file -importer-opt path=prices.csv -parser csv \
//		-where 'num(row["px"]) > 1' -columns sym,px -product min:px
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	_ "github.com/glebarez/go-sqlite"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/jrhy/miso"
	"github.com/jrhy/miso/importer"
	s3importer "github.com/jrhy/miso/importer/s3"
	"github.com/jrhy/miso/importer/sqlrows"
	"github.com/jrhy/miso/parser"
	"github.com/jrhy/miso/predicate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var configPath, importerName, parserName, where, columns, sortColumn, metricsAddr string
	var strict, desc bool
	var verbosity int
	var watch time.Duration
	importerOpts, parserOpts := keyValues{}, keyValues{}
	var products productList

	flag.StringVar(&configPath, "config", "", "YAML config file; flags override its values")
	flag.StringVar(&importerName, "importer", "", "importer name (local, file, s3, sqlite)")
	flag.Var(importerOpts, "importer-opt", "importer option key=value, repeatable")
	flag.StringVar(&parserName, "parser", "", "parser name (json, yaml, csv, parquet, arrow, proto)")
	flag.Var(parserOpts, "parser-opt", "parser option key=value, repeatable")
	flag.StringVar(&where, "where", "", "Go boolean expression over row")
	flag.StringVar(&columns, "columns", "", "comma-separated columns to show")
	flag.StringVar(&sortColumn, "sort", "", "column to sort the view by")
	flag.BoolVar(&desc, "desc", false, "sort descending")
	flag.Var(&products, "product", "reducer:column to track (min, max, sum, mean, count), repeatable")
	flag.BoolVar(&strict, "strict", false, "fail on values that do not match their column type")
	flag.DurationVar(&watch, "watch", 0, "refetch at this interval and print product changes")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "", "serve Prometheus metrics on this address")
	flag.IntVar(&verbosity, "v", 0, "log verbosity")
	flag.Parse()

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zl, err := zc.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zapr.NewLogger(zl).WithName("miso")

	cfg := &Config{}
	if configPath != "" {
		if cfg, err = LoadConfig(configPath); err != nil {
			log.Error(err, "unable to load config")
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "importer":
			cfg.Importer.Name = importerName
		case "importer-opt":
			cfg.Importer.Config = merge(cfg.Importer.Config, importerOpts)
		case "parser":
			cfg.Parser.Name = parserName
		case "parser-opt":
			cfg.Parser.Config = merge(cfg.Parser.Config, parserOpts)
		case "where":
			cfg.Where = where
		case "columns":
			cfg.Columns = strings.Split(columns, ",")
		case "sort", "desc":
			cfg.Sort = &SortSpec{Column: sortColumn, Desc: desc}
		case "product":
			cfg.Products = products
		case "strict":
			cfg.Strict = strict
		}
	})

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server")
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg, err := newRegistry(log)
	if err != nil {
		log.Error(err, "unable to set up registry")
		os.Exit(1)
	}
	if err := run(ctx, reg, cfg, log, os.Stdout, watch); err != nil {
		log.Error(err, "failed")
		os.Exit(1)
	}
}

func merge(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// newRegistry registers every importer and parser the command knows.
func newRegistry(log logr.Logger) (*miso.Registry, error) {
	reg := miso.NewRegistry()
	if err := importer.RegisterAll(reg); err != nil {
		return nil, err
	}
	if err := parser.RegisterAll(reg); err != nil {
		return nil, err
	}
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		log.V(1).Info("s3 importer unavailable", "reason", err.Error())
	} else if err := s3importer.Register(reg, awss3.New(sess)); err != nil {
		return nil, err
	}
	err = reg.RegisterImporter("sqlite", func(cfg map[string]string) (miso.Importer, error) {
		if cfg["dsn"] == "" || cfg["query"] == "" {
			return nil, fmt.Errorf("sqlite importer needs dsn and query")
		}
		db, err := sql.Open("sqlite", cfg["dsn"])
		if err != nil {
			return nil, err
		}
		return sqlrows.NewImporter(db, cfg["query"]), nil
	})
	return reg, err
}

func run(ctx context.Context, reg *miso.Registry, cfg *Config, log logr.Logger, out io.Writer, watch time.Duration) error {
	imp, err := reg.Importer(cfg.Importer.Name, cfg.Importer.Config)
	if err != nil {
		return err
	}
	p, err := reg.Parser(cfg.Parser.Name, cfg.Parser.Config)
	if err != nil {
		return err
	}
	ds, err := miso.New(miso.Data{},
		miso.WithStrict(cfg.Strict),
		miso.WithLogger(log),
		miso.WithRowCache(miso.NewRowCache(4096)))
	if err != nil {
		return err
	}
	if err := ds.FetchSync(ctx, miso.FetchOptions{Importer: imp, Parser: p}); err != nil {
		return err
	}

	q := miso.Query{Columns: cfg.Columns}
	if cfg.Where != "" {
		if q.Rows, err = predicate.Compile(cfg.Where); err != nil {
			return err
		}
	}
	view, err := ds.Where(q)
	if err != nil {
		return err
	}
	defer view.Close()
	if cfg.Sort != nil {
		if err := view.SortBy(cfg.Sort.Column, cfg.Sort.Desc); err != nil {
			return err
		}
	}
	prods := make([]*miso.Product, len(cfg.Products))
	for i, spec := range cfg.Products {
		if prods[i], err = derive(view, spec); err != nil {
			return err
		}
		defer prods[i].Close()
	}

	b, err := view.ToJSON()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", b)
	for i, spec := range cfg.Products {
		fmt.Fprintf(out, "%s = %v\n", spec, prods[i].Val())
	}
	if watch <= 0 {
		return nil
	}

	for i, spec := range cfg.Products {
		spec := spec
		prods[i].Bind(miso.EventChange, func(_ miso.Observable, ev miso.Event) {
			ve := ev.(*miso.ValueEvent)
			fmt.Fprintf(out, "%s = %v (was %v)\n", spec, ve.Value, ve.Previous)
		})
	}
	view.Bind(miso.EventChange, func(_ miso.Observable, ev miso.Event) {
		ce := ev.(*miso.ChangeEvent)
		log.Info("view changed", "added", ce.Count(miso.Add), "removed", ce.Count(miso.Remove), "updated", ce.Count(miso.Update))
	})

	apply := make(chan func())
	opts := miso.FetchOptions{
		Importer: imp,
		Parser:   p,
		Error:    func(_ *miso.Dataset, err error) { log.Error(err, "refresh failed") },
		Schedule: func(f func()) {
			select {
			case apply <- f:
			case <-ctx.Done():
			}
		},
	}
	ticker := time.NewTicker(watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ds.Fetch(ctx, opts)
		case f := <-apply:
			f()
		}
	}
}

func derive(v *miso.View, spec ProductSpec) (*miso.Product, error) {
	switch spec.Reducer {
	case "min":
		return v.Min(spec.Column)
	case "max":
		return v.Max(spec.Column)
	case "sum":
		return v.Sum(spec.Column)
	case "mean":
		return v.Mean(spec.Column)
	case "count":
		return v.Count(spec.Column)
	}
	return nil, fmt.Errorf("unknown reducer %q", spec.Reducer)
}
