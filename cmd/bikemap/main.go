package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-bikemap/internal/cache"
	"github.com/joeblew999/plat-bikemap/internal/logger"
	"github.com/joeblew999/plat-bikemap/internal/server"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
	"github.com/joeblew999/plat-bikemap/pkg/bikeclient"
)

// Options defines all CLI flags and env vars for the bike map server.
// Flags: --host, --port, --mapbox-token, --redis-addr, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_MAPBOX_TOKEN, SERVICE_REDIS_ADDR, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8086"`
	LogLevel string `doc:"Log level (debug, info, warn, error)" default:"info"`

	MapboxToken string `doc:"Mapbox access token for the map and place search"`
	GeocoderURL string `doc:"Geocoding API root (defaults to Mapbox)"`
	BaseStyle   string `doc:"Basemap style URL" default:"mapbox://styles/mapbox/streets-v12"`

	BikewaysURL string `doc:"Cycling network GeoJSON URL"`
	ParkingURL  string `doc:"Bicycle parking GeoJSON URL"`
	ShopsURL    string `doc:"Bicycle shops GeoJSON URL"`

	FetchAttempts int  `doc:"Tries per dataset fetch" default:"3"`
	FetchTimeout  int  `doc:"Per-request fetch timeout in seconds" default:"30"`
	CacheTTL      int  `doc:"Dataset cache lifetime in seconds; 0 keeps entries until restart" default:"600"`
	Warm          bool `doc:"Fetch every dataset at startup"`

	RedisAddr     string `doc:"Redis address for a shared dataset cache (empty keeps it in memory)"`
	RedisPassword string `doc:"Redis password"`
	RedisDB       int    `doc:"Redis database" default:"0"`

	SessionIdle int `doc:"Minutes before an idle map session is dropped" default:"30"`
}

func (o *Options) config() server.Config {
	cfg := server.DefaultConfig()
	cfg.Host = o.Host
	cfg.Port = strconv.Itoa(o.Port)
	cfg.MapboxToken = o.MapboxToken
	cfg.GeocoderURL = o.GeocoderURL
	cfg.BaseStyle = o.BaseStyle
	if o.BikewaysURL != "" {
		cfg.Datasets.Bikeways = o.BikewaysURL
	}
	if o.ParkingURL != "" {
		cfg.Datasets.Parking = o.ParkingURL
	}
	if o.ShopsURL != "" {
		cfg.Datasets.Shops = o.ShopsURL
	}
	cfg.Fetch.Attempts = o.FetchAttempts
	cfg.Fetch.Timeout = time.Duration(o.FetchTimeout) * time.Second
	cfg.Fetch.CacheTTL = time.Duration(o.CacheTTL) * time.Second
	cfg.WarmCache = o.Warm
	cfg.Redis = cache.RedisConfig{Addr: o.RedisAddr, Password: o.RedisPassword, DB: o.RedisDB}
	if o.SessionIdle > 0 {
		cfg.SessionIdle = time.Duration(o.SessionIdle) * time.Minute
	}
	return cfg
}

func newServer(opts *Options, log *zap.Logger) *server.Server {
	srv, err := server.New(opts.config(), log)
	if err != nil {
		log.Fatal("server setup failed", zap.Error(err))
	}
	return srv
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log, err := logger.New(opts.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		hooks.OnStart(func() {
			defer cancel()
			defer log.Sync()
			srv := newServer(opts, log)
			defer srv.Close()

			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-bikemap server starting...\n")
			fmt.Printf("  Map:     %s/\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			if opts.MapboxToken == "" {
				fmt.Printf("  Search:  disabled (no Mapbox token)\n")
			}
			fmt.Println()

			if err := srv.Run(ctx); err != nil {
				log.Fatal("server error", zap.Error(err))
			}
		})
		hooks.OnStop(cancel)
	})

	cli.Root().Use = "bikemap"
	cli.Root().Short = "Toronto cycling map server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:     "spec",
		Aliases: []string{"openapi"},
		Short:   "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts, zap.NewNop())
			defer srv.Close()
			useYAML, _ := cmd.Flags().GetBool("yaml")
			printDoc(srv.OpenAPI(), useYAML)
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// style subcommand: print the layer stack and dataset sources
	styleCmd := &cobra.Command{
		Use:   "style",
		Short: "Print the bike map layers and sources (YAML by default, --json for JSON)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			useJSON, _ := cmd.Flags().GetBool("json")
			doc := struct {
				Sources []service.SourceDef `json:"sources" yaml:"sources"`
				Layers  []style.LayerSpec   `json:"layers" yaml:"layers"`
				Legend  []style.LegendItem  `json:"legend" yaml:"legend"`
			}{
				Sources: service.BikeMapSources(opts.config().Datasets),
				Layers:  style.DefaultSpecs(),
				Legend:  style.BikewayLegend(),
			}
			printDoc(doc, !useJSON)
		}),
	}
	styleCmd.Flags().Bool("json", false, "Output as JSON instead of YAML")
	cli.Root().AddCommand(styleCmd)

	// probe subcommand: smoke-test a running server
	probeCmd := &cobra.Command{
		Use:   "probe [base-url]",
		Short: "Check a running server: health, a fresh session and its sources",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			base := "http://localhost:8086"
			if len(args) == 1 {
				base = args[0]
			}
			if err := probe(cmd.Context(), bikeclient.New(base)); err != nil {
				fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
				os.Exit(1)
			}
		},
	}
	cli.Root().AddCommand(probeCmd)

	cli.Run()
}

func probe(ctx context.Context, c *bikeclient.Client) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	fmt.Printf("health:  %s (v%s)\n", health.Status, health.Version)

	_, sess, err := c.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer c.DeleteSession(ctx, sess.ID)

	failed := 0
	for _, src := range sess.Sources {
		fmt.Printf("source:  %-14s %-6s %6d features %s\n", src.Name, src.Status, src.Features, src.Error)
		if src.Status != "ready" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed to load", failed, len(sess.Sources))
	}
	return nil
}

// printDoc writes v as indented JSON or as YAML. YAML goes through JSON
// first so filter expressions keep their array form.
func printDoc(v any, useYAML bool) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err == nil && useYAML {
		var generic any
		if err = json.Unmarshal(output, &generic); err == nil {
			output, err = yaml.Marshal(generic)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}
