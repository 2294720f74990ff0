package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/jord/assets"
	"github.com/aukilabs/jord/featureflag"
	"github.com/aukilabs/jord/framelog"
	jordhttp "github.com/aukilabs/jord/http"
	"github.com/aukilabs/jord/smoketest"
	"github.com/aukilabs/jord/streamer"
	"github.com/aukilabs/jord/terrain"
	jordws "github.com/aukilabs/jord/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Jord version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "jord_info",
		Help:        "Jord information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"JORD_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"JORD_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"JORD_PUBLIC_ENDPOINT"      help:"The public endpoint where this Jord server is reachable."`
	InstancesFile      string        `cli:""        env:"JORD_INSTANCES_FILE"       help:"The file that describes the terrain instances to serve."`
	AssetsDir          string        `cli:""        env:"JORD_ASSETS_DIR"           help:"The directory that contains terrain tiles. Tiles are generated procedurally when empty."`
	AssetSeed          int64         `cli:",hidden" env:"JORD_ASSET_SEED"           help:"The seed for procedurally generated tiles."`
	LogLevel           string        `cli:""        env:"JORD_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"JORD_LOG_INDENT"           help:"Indent logs."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"JORD_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	FrameDuration      time.Duration `cli:",hidden" env:"JORD_FRAME_DURATION"       help:"The duration of a streaming frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"JORD_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	FrameLogDir        string        `cli:",hidden" env:"JORD_FRAME_LOG_DIR"        help:"The directory where frame journals are written. Journaling is disabled when empty."`
	Assets             assetsConfig  `cli:",hidden" env:"-"                         help:"Asset server configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                         help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"JORD_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                         help:"Show version."`
	Help               bool          `cli:""        env:"-"                         help:"Show help."`
}

type assetsConfig struct {
	Workers          int           `cli:",hidden" env:"JORD_ASSETS_WORKERS"            help:"The number of tile loading workers."`
	QueueSize        int           `cli:",hidden" env:"JORD_ASSETS_QUEUE_SIZE"         help:"The size of the tile loading queue."`
	Retries          int           `cli:",hidden" env:"JORD_ASSETS_RETRIES"            help:"The number of retries for a failed tile read."`
	RetryDelay       time.Duration `cli:",hidden" env:"JORD_ASSETS_RETRY_DELAY"        help:"The backoff base between tile read retries."`
	PrewarmCacheSize int           `cli:",hidden" env:"JORD_ASSETS_PREWARM_CACHE_SIZE" help:"The size of the prefetched tile cache."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"JORD_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"JORD_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"JORD_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"JORD_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 50,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Jord terrain streaming server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "jord",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	instancesConf, err := streamer.LoadConfig(conf.InstancesFile)
	if err != nil {
		logs.Fatal(errors.New("loading terrain instances failed").Wrap(err))
	}

	flags := featureflag.New(conf.FeatureFlags)

	var tileSource assets.Source
	if conf.AssetsDir != "" {
		tileSource = assets.DirSource{Root: conf.AssetsDir}
	} else {
		tileSource = assets.ProcSource{Seed: conf.AssetSeed}
	}

	assetServer := assets.NewServer(tileSource, assets.Options{
		Workers:          conf.Assets.Workers,
		QueueSize:        conf.Assets.QueueSize,
		Retries:          conf.Assets.Retries,
		RetryDelay:       conf.Assets.RetryDelay,
		PrewarmCacheSize: conf.Assets.PrewarmCacheSize,
	})
	assetServer.Start(ctx)
	defer assetServer.Wait()

	var instances streamer.Store
	for _, spec := range instancesConf.Instances {
		terrainConf := spec.TerrainConfig()
		if flags.IsSet(featureflag.FlagDisableNodeCache) {
			terrainConf.CacheSize = 0
		}
		terrain.WarnUndersizedAtlas(terrainConf, spec.MaxViewDistance)

		if _, err := instances.Add(terrainConf, assetServer); err != nil {
			logs.Fatal(errors.New("adding terrain instance failed").
				WithTag("instance", spec.Name).
				Wrap(err))
		}
	}

	scheduler := &streamer.Scheduler{
		Store:         &instances,
		Events:        assetServer,
		FrameDuration: conf.FrameDuration,
		FeatureFlags:  flags,
		Prefetcher:    &streamer.Prefetcher{Warmer: assetServer},
	}

	if conf.FrameLogDir != "" {
		frameLog := framelog.NewWriter(conf.FrameLogDir)
		frameLog.Start(ctx)
		defer frameLog.Wait()
		scheduler.Recorder = frameLog
	}

	go scheduler.Run(ctx)

	readinessCheck := scheduler.Running

	var service http.ServeMux
	service.Handle("/health", jordhttp.HandleWithCORS(http.HandlerFunc(jordhttp.HandleHealthCheck)))
	service.Handle("/version", jordhttp.HandleWithCORS(http.HandlerFunc(jordhttp.HandleVersion(version))))
	service.Handle("/ready", jordhttp.HandleWithCORS(http.HandlerFunc(jordhttp.HandleReadyCheck(readinessCheck))))

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint: conf.PublicEndpoint,
	}))

	service.Handle("/", jordhttp.HandleWithCORS(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h jordws.Handler = &jordws.StreamHandler{
				Instances:         &instances,
				ClientIdleTimeout: conf.ClientIdleTimeout,
			}
			h = jordws.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = jordws.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			jordws.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", jordhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", jordhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("instances", len(instancesConf.Instances)).
		WithTag("feature_flags", flags.List()).
		Info("starting jord server")

	jordhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			jordhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive")
	}

	return nil
}
