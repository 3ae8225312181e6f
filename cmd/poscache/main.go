// Command poscache balances a collection of records by type and prints the
// resulting ids, either whole or one page at a time through the cache.
//
//	poscache balance -in items.json -type-field kind -policy alphabetical
//	poscache page -in items.json -type-field kind -page 2 -per-page 20 -config cache.yaml
//
// Records are read as a JSON array of objects. Exit codes: 0 ok, 1 internal
// error, 2 usage or configuration, 3 invalid policy, 4 missing type field or
// duplicate id, 5 invalid pagination, 6 storage unavailable, 7 not ready.
package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	stdslog "log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/poscache"
	"github.com/unkn0wn-root/poscache/balance"
	"github.com/unkn0wn-root/poscache/executor"
	plogrus "github.com/unkn0wn-root/poscache/log/logrus"
	pslog "github.com/unkn0wn-root/poscache/log/slog"
	pzap "github.com/unkn0wn-root/poscache/log/zap"
	"github.com/unkn0wn-root/poscache/metrics/prom"
	"github.com/unkn0wn-root/poscache/paginate"
	"github.com/unkn0wn-root/poscache/sloghooks"
	"github.com/unkn0wn-root/poscache/storage"
)

const (
	exitOK = iota
	exitInternal
	exitUsage
	exitPolicy
	exitTypeField
	exitPagination
	exitStorage
	exitNotReady
)

const usage = `usage: poscache <command> [flags]

commands:
  balance   balance records and print the ids (optionally one page)
  page      resolve records through the cache and print one page

run "poscache <command> -h" for flags`

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return exitUsage
	}
	var err error
	switch args[0] {
	case "balance":
		err = runBalance(ctx, args[1:], stdin, stdout, stderr)
	case "page":
		err = runPage(ctx, args[1:], stdin, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return exitOK
	default:
		err = &usageError{msg: fmt.Sprintf("unknown command %q", args[0])}
	}
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "poscache: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var (
		ue  *usageError
		pe  *poscache.InvalidPolicyError
		me  *poscache.MissingTypeFieldError
		de  *poscache.DuplicateItemError
		ppe *poscache.InvalidPaginationParamsError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, poscache.ErrInvalidConfig), errors.Is(err, poscache.ErrInvalidQuery):
		return exitUsage
	case errors.As(err, &pe):
		return exitPolicy
	case errors.As(err, &me), errors.As(err, &de):
		return exitTypeField
	case errors.As(err, &ppe):
		return exitPagination
	case errors.Is(err, storage.ErrUnavailable):
		return exitStorage
	case errors.Is(err, poscache.ErrNotReady):
		return exitNotReady
	default:
		return exitInternal
	}
}

type cliFlags struct {
	in           string
	configPath   string
	collection   string
	typeField    string
	idField      string
	policy       string
	order        string
	allowUnknown bool
	version      string
	page         int
	perPage      int

	backend     string
	kv          string
	dsn         string
	logKind     string
	verbose     bool
	metricsAddr string
}

func parseFlags(name string, args []string, stderr io.Writer) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.in, "in", "-", "JSON array of records (- = stdin)")
	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	fs.StringVar(&f.collection, "collection", "cli", "collection id")
	fs.StringVar(&f.typeField, "type-field", "type", "record field holding the type label")
	fs.StringVar(&f.idField, "id-field", "id", "record field holding the id")
	fs.StringVar(&f.policy, "policy", "first-seen", "first-seen|frequency|alphabetical|explicit")
	fs.StringVar(&f.order, "order", "", "comma separated labels for -policy explicit")
	fs.BoolVar(&f.allowUnknown, "allow-unknown", false, "explicit order may name labels absent from the data")
	fs.StringVar(&f.version, "version", "", "collection version token (default: hash of the input)")
	fs.IntVar(&f.page, "page", 0, "page number, 1-based (0 = whole sequence)")
	fs.IntVar(&f.perPage, "per-page", 20, "page size")
	if name == "page" {
		fs.StringVar(&f.backend, "backend", "", "memory|durable|kv (overrides config)")
		fs.StringVar(&f.kv, "kv", "", "redis|nats|dynamo|ristretto|bigcache (overrides config)")
		fs.StringVar(&f.dsn, "dsn", "", "sqlite file for the durable backend (overrides config)")
		fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address until interrupted")
	}
	fs.StringVar(&f.logKind, "log", "slog", "slog|zap|logrus")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, &usageError{msg: fmt.Sprintf("unexpected arguments: %v", fs.Args())}
	}
	return f, nil
}

func (f *cliFlags) parsePolicy() (balance.Policy, error) {
	var order []string
	if f.order != "" {
		for _, l := range strings.Split(f.order, ",") {
			order = append(order, strings.TrimSpace(l))
		}
	}
	p, err := balance.ParsePolicy(f.policy, order)
	if err != nil {
		return balance.Policy{}, err
	}
	if f.allowUnknown {
		p = p.AllowUnknown()
	}
	return p, nil
}

// readRecords returns the decoded records and a hash of the raw input.
func readRecords(path string, stdin io.Reader) ([]map[string]any, string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read input: %w", err)
	}
	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, "", &usageError{msg: fmt.Sprintf("input must be a JSON array of objects: %v", err)}
	}
	sum := sha256.Sum256(data)
	return records, hex.EncodeToString(sum[:16]), nil
}

func runBalance(_ context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	f, err := parseFlags("balance", args, stderr)
	if err != nil {
		return err
	}
	p, err := f.parsePolicy()
	if err != nil {
		return err
	}
	records, _, err := readRecords(f.in, stdin)
	if err != nil {
		return err
	}
	items, err := balance.Records(records, f.idField, f.typeField)
	if err != nil {
		return err
	}
	ids, err := balance.Balance(items, p)
	if err != nil {
		return err
	}
	if f.page == 0 {
		return writeJSON(stdout, map[string]any{"ids": ids, "total": len(ids)})
	}
	pg, err := paginate.Offset(ids, f.page, f.perPage, 0)
	if err != nil {
		return err
	}
	return writeJSON(stdout, pg)
}

type pageOutput struct {
	paginate.Page
	Key         string          `json:"key"`
	Fingerprint string          `json:"fingerprint"`
	Status      poscache.Status `json:"status"`
}

func runPage(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	f, err := parseFlags("page", args, stderr)
	if err != nil {
		return err
	}
	if f.page == 0 {
		f.page = 1
	}
	if err := paginate.Validate(f.page, f.perPage); err != nil {
		return err
	}
	p, err := f.parsePolicy()
	if err != nil {
		return err
	}

	fc, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	if f.backend != "" {
		fc.Cache.StorageBackend = poscache.StorageKind(f.backend)
	}
	if f.kv != "" {
		fc.Cache.StorageBackend = poscache.StorageKV
		fc.KV.Provider = f.kv
	}
	if f.dsn != "" {
		fc.Durable.DSN = f.dsn
	}
	if err := fc.Cache.Validate(); err != nil {
		return err
	}

	records, digest, err := readRecords(f.in, stdin)
	if err != nil {
		return err
	}
	version := f.version
	if version == "" {
		version = digest
	}

	logger, err := newLogger(f.logKind, f.verbose, stderr)
	if err != nil {
		return err
	}

	w, err := openBackend(ctx, fc)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, w.close()) }()

	reg := prometheus.NewRegistry()
	opts := poscache.Options{
		Config:   fc.Cache,
		Backend:  w.backend,
		GenStore: w.gens,
		Logger:   logger,
		Hooks:    sloghooks.New(stdslog.New(stdslog.NewTextHandler(stderr, &stdslog.HandlerOptions{Level: logLevel(f.verbose)})), sloghooks.Options{}),
		Metrics:  prom.New(reg, "poscache", "", nil),
	}
	var pool *executor.Pool
	if fc.Cache.BackgroundThreshold > 0 {
		pool = executor.New(executor.Options{
			Workers:       fc.Executor.Workers,
			QueueSize:     fc.Executor.QueueSize,
			RatePerSecond: fc.Executor.RatePerSecond,
			Logger:        logger,
		})
		opts.Executor = pool
	}

	c, err := poscache.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		// let deferred computations land before the backend closes
		if pool != nil {
			_ = pool.Close(ctx)
		}
		err = errors.Join(err, c.Close(context.Background()))
	}()

	q := poscache.Query{
		CollectionID: f.collection,
		VersionToken: version,
		TypeField:    f.typeField,
		Policy:       p,
		Options:      map[string]any{"id_field": f.idField},
		Items: func(context.Context) ([]balance.Item, error) {
			return balance.Records(records, f.idField, f.typeField)
		},
		Count: func(context.Context) (int, error) { return len(records), nil },
	}
	pg, res, err := c.PageQuery(ctx, q, f.page, f.perPage)
	if err != nil {
		return err
	}
	if err := writeJSON(stdout, pageOutput{Page: pg, Key: res.Key, Fingerprint: res.Fingerprint, Status: res.Status}); err != nil {
		return err
	}

	if f.metricsAddr != "" {
		return serveMetrics(ctx, f.metricsAddr, reg, stderr)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, stderr io.Writer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	fmt.Fprintf(stderr, "serving metrics on http://%s/metrics\n", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func logLevel(verbose bool) stdslog.Level {
	if verbose {
		return stdslog.LevelDebug
	}
	return stdslog.LevelWarn
}

func newLogger(kind string, verbose bool, out io.Writer) (poscache.Logger, error) {
	switch kind {
	case "", "slog":
		h := stdslog.NewTextHandler(out, &stdslog.HandlerOptions{Level: logLevel(verbose)})
		return pslog.New(stdslog.New(h)), nil
	case "zap":
		level := zapcore.WarnLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
		return pzap.New(zap.New(core)), nil
	case "logrus":
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(logrus.WarnLevel)
		if verbose {
			l.SetLevel(logrus.DebugLevel)
		}
		return plogrus.New(l), nil
	}
	return nil, &usageError{msg: fmt.Sprintf("unknown logger %q", kind)}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
