package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gridwatch/pvlive-consumer/internal/models"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/fill"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/pipeline"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/pvlive"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/window"
)

const (
	defaultNGSPs       = 342
	defaultConcurrency = 1
)

// Config holds runtime configuration for the consumer job.
type Config struct {
	DatabaseURL     string
	Regime          models.Regime
	NGSPs           int
	IncludeNational bool
	// UKLondonHour, when set, restricts runs to that Europe/London hour.
	UKLondonHour *int

	Backfill       time.Duration
	ElevationLimit float64

	PVLiveDomain     string
	RequestTimeout   time.Duration
	MaxRetries       int
	FetchConcurrency int
	BatchSize        int
	IgnoreGSPIDs     []int

	LocationsFile  string
	PushgatewayURL string
	LogLevel       slog.Level
	DryRun         bool
}

// Load reads configuration from environment variables (optionally .env), then
// applies any flags in args on top.
func Load(args []string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		NGSPs:            defaultNGSPs,
		IncludeNational:  true,
		Backfill:         window.DefaultBackfill,
		ElevationLimit:   fill.DefaultElevationLimit,
		PVLiveDomain:     pvlive.DefaultDomain,
		RequestTimeout:   pvlive.DefaultTimeout,
		MaxRetries:       pvlive.DefaultMaxRetries,
		FetchConcurrency: defaultConcurrency,
		BatchSize:        pipeline.DefaultBatchSize,
		IgnoreGSPIDs:     append([]int(nil), pipeline.DefaultIgnoreGSPIDs...),
		LogLevel:         slog.LevelInfo,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DB_URL"))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}

	regime := strings.TrimSpace(os.Getenv("REGIME"))
	if regime == "" {
		regime = string(models.RegimeInDay)
	}

	if v := strings.TrimSpace(os.Getenv("N_GSPS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid N_GSPS: %w", err)
		}
		cfg.NGSPs = n
	}

	if v := strings.TrimSpace(os.Getenv("INCLUDE_NATIONAL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid INCLUDE_NATIONAL: %w", err)
		}
		cfg.IncludeNational = b
	}

	if v := strings.TrimSpace(os.Getenv("UK_LONDON_HOUR")); v != "" {
		h, err := parseHour(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid UK_LONDON_HOUR: %w", err)
		}
		cfg.UKLondonHour = &h
	}

	if v := strings.TrimSpace(os.Getenv("BACKFILL_HOURS")); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil || h < 0 {
			return cfg, fmt.Errorf("invalid BACKFILL_HOURS: %q", v)
		}
		cfg.Backfill = time.Duration(h * float64(time.Hour))
	}

	if v := strings.TrimSpace(os.Getenv("ELEVATION_LIMIT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid ELEVATION_LIMIT: %w", err)
		}
		cfg.ElevationLimit = f
	}

	if v := strings.TrimSpace(os.Getenv("PVLIVE_DOMAIN_URL")); v != "" {
		cfg.PVLiveDomain = v
	}

	if v := strings.TrimSpace(os.Getenv("PVLIVE_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PVLIVE_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("PVLIVE_MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid PVLIVE_MAX_RETRIES: %q", v)
		}
		cfg.MaxRetries = n
	}

	if v := strings.TrimSpace(os.Getenv("FETCH_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid FETCH_CONCURRENCY: %q", v)
		}
		cfg.FetchConcurrency = n
	}

	if v := strings.TrimSpace(os.Getenv("BATCH_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid BATCH_SIZE: %q", v)
		}
		cfg.BatchSize = n
	}

	if v, ok := os.LookupEnv("IGNORE_GSP_IDS"); ok {
		ids, err := parseIDs(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid IGNORE_GSP_IDS: %w", err)
		}
		cfg.IgnoreGSPIDs = ids
	}

	cfg.LocationsFile = strings.TrimSpace(os.Getenv("GSP_LOCATIONS_FILE"))
	cfg.PushgatewayURL = strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))

	if v := strings.TrimSpace(os.Getenv("LOGLEVEL")); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("invalid LOGLEVEL: %w", err)
		}
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	if err := cfg.applyFlags(args, &regime); err != nil {
		return cfg, err
	}

	r, err := models.ParseRegime(regime)
	if err != nil {
		return cfg, err
	}
	cfg.Regime = r

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DB_URL is required")
	}
	if cfg.NGSPs < 0 {
		return cfg, fmt.Errorf("n-gsps must not be negative, got %d", cfg.NGSPs)
	}
	return cfg, nil
}

func (cfg *Config) applyFlags(args []string, regime *string) error {
	fs := flag.NewFlagSet("pvlive-consumer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	dbURL := fs.String("db-url", cfg.DatabaseURL, "database URL (postgres://... or sqlite://path)")
	regimeFlag := fs.String("regime", *regime, `"in-day" or "day-after"`)
	nGSPs := fs.Int("n-gsps", cfg.NGSPs, "number of regional GSPs to pull")
	includeNational := fs.Bool("include-national", cfg.IncludeNational, "also pull the national GSP (id 0)")
	hour := fs.String("uk-london-time-hour", "", "only run when the Europe/London hour equals this")
	dryRun := fs.Bool("dry-run", cfg.DryRun, "roll back instead of committing")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg.DatabaseURL = strings.TrimSpace(*dbURL)
	*regime = strings.TrimSpace(*regimeFlag)
	cfg.NGSPs = *nGSPs
	cfg.IncludeNational = *includeNational
	cfg.DryRun = *dryRun
	if v := strings.TrimSpace(*hour); v != "" {
		h, err := parseHour(v)
		if err != nil {
			return fmt.Errorf("invalid --uk-london-time-hour: %w", err)
		}
		cfg.UKLondonHour = &h
	}
	return nil
}

func parseHour(v string) (int, error) {
	h, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range 0-23", h)
	}
	return h, nil
}

func parseIDs(v string) ([]int, error) {
	ids := []int{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
