package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/archive"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/catalog"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/clickhouse"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/converter"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/export"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/zones"
	"github.com/GeorgeGarkavenko/guess/utils/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFileFlag := flag.String("log-file", "", "also write logs to this file, rotated by size (or set LOG_FILE env var)")
	metricsAddrFlag := flag.String("metrics-addr", "", "address to listen on for prometheus metrics while converting")

	// Reference data
	catalogFlag := flag.String("catalog", "", "item catalog file used to expand styles into variants (or set CATALOG_FILE env var)")
	zonesFlag := flag.String("zones", "", "zone/store file used to substitute zones for store lists (or set ZONES_FILE env var)")

	// Output
	outDirFlag := flag.String("out-dir", ".", "directory to write import files to")
	formatFlag := flag.String("format", string(export.FormatTSV), "import file format: tsv or xlsx")
	maxLocationsFlag := flag.Int("max-locations", 0, "maximum locations per import file (0 = default)")
	concurrencyFlag := flag.Int("concurrency", 0, "number of input files converted at once (0 = GOMAXPROCS)")
	s3BucketFlag := flag.String("s3-bucket", "", "upload import files to this S3 bucket instead of --out-dir (or set S3_BUCKET env var)")
	s3PrefixFlag := flag.String("s3-prefix", "", "key prefix for uploaded import files (or set S3_PREFIX env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "custom S3 endpoint, for S3-compatible stores (or set S3_ENDPOINT env var)")

	// ClickHouse archive
	archiveFlag := flag.Bool("archive", false, "archive produced pricing events to ClickHouse")
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "enable TLS for ClickHouse (or set CLICKHOUSE_SECURE=true env var)")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "run archive schema migrations and exit")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "show archive schema migration status and exit")

	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <export file>...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("converter %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if env := os.Getenv("LOG_FILE"); env != "" {
		*logFileFlag = env
	}
	if env := os.Getenv("CATALOG_FILE"); env != "" {
		*catalogFlag = env
	}
	if env := os.Getenv("ZONES_FILE"); env != "" {
		*zonesFlag = env
	}
	if env := os.Getenv("S3_BUCKET"); env != "" {
		*s3BucketFlag = env
	}
	if env := os.Getenv("S3_PREFIX"); env != "" {
		*s3PrefixFlag = env
	}
	if env := os.Getenv("S3_ENDPOINT"); env != "" {
		*s3EndpointFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_ADDR_TCP"); env != "" {
		*clickhouseAddrFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_DATABASE"); env != "" {
		*clickhouseDatabaseFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_USERNAME"); env != "" {
		*clickhouseUsernameFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_PASSWORD"); env != "" {
		*clickhousePasswordFlag = env
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if env := os.Getenv("MAX_LOCATIONS"); env != "" {
		n, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("invalid MAX_LOCATIONS %q: %w", env, err)
		}
		*maxLocationsFlag = n
	}

	log, logCloser := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, File: *logFileFlag})
	defer logCloser.Close()

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      os.Getenv("SENTRY_ENVIRONMENT"),
			Release:          version,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
		}); err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	chCfg := clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *clickhouseMigrateFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.Up(ctx, log, chCfg)
	}
	if *clickhouseMigrateStatusFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return clickhouse.MigrationStatus(ctx, log, chCfg)
	}

	inputs := flag.Args()
	if len(inputs) == 0 {
		flag.Usage()
		return errors.New("no export files given")
	}

	format, err := export.ParseFormat(*formatFlag)
	if err != nil {
		return err
	}

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues("converter", version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	cat := catalog.Empty()
	if *catalogFlag != "" {
		if cat, err = catalog.LoadFile(*catalogFlag, catalog.Options{Logger: log}); err != nil {
			return err
		}
		log.Info("catalog loaded", "path", *catalogFlag, "styles", cat.Len(), "excluded", cat.Excluded(), "malformed", cat.Malformed())
	}

	zs := adjustment.Zones{}
	if *zonesFlag != "" {
		if zs, err = zones.LoadFile(log, *zonesFlag); err != nil {
			return err
		}
	}

	sink, err := newSink(ctx, log, *s3BucketFlag, *s3PrefixFlag, *s3EndpointFlag, *outDirFlag)
	if err != nil {
		return err
	}

	cfg := converter.Config{
		Logger:       log,
		Catalog:      cat,
		Zones:        zs,
		MaxLocations: *maxLocationsFlag,
		Format:       format,
		Sink:         sink,
		Concurrency:  *concurrencyFlag,
	}

	if *archiveFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --archive")
		}
		client, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		store, err := archive.NewStore(archive.Config{Logger: log, Client: client})
		if err != nil {
			return err
		}
		cfg.Archive = store
	}

	conv, err := converter.New(cfg)
	if err != nil {
		return err
	}

	results, err := conv.ConvertFiles(ctx, inputs)
	for _, res := range results {
		if res == nil {
			continue
		}
		log.Info("conversion finished",
			"source", res.Source, "files", len(res.Files), "failed_adjustments", len(res.Failed), "duration", res.Duration)
	}
	return err
}

func newSink(ctx context.Context, log *slog.Logger, bucket, prefix, endpoint, dir string) (export.Sink, error) {
	if bucket == "" {
		return export.NewDirSink(dir)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	log.Info("uploading import files to s3", "bucket", bucket, "prefix", prefix)
	return export.NewS3Sink(export.S3Config{Logger: log, Client: client, Bucket: bucket, Prefix: prefix})
}
