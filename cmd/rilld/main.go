package main

import (
	"context"
	"net/http"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/rilldb/rill/auth"
	"github.com/rilldb/rill/backend"
	"github.com/rilldb/rill/hrana"
	mbp "github.com/rilldb/rill/mainboilerplate"
	"github.com/rilldb/rill/server"
	"github.com/rilldb/rill/task"
)

const iniFilename = "rill.ini"

// Config is the top-level configuration object of a rill server.
var Config = new(struct {
	Rill struct {
		ID             string `long:"id" env:"ID" description:"Unique ID of this process. Auto-generated if not set"`
		Iface          string `long:"iface" env:"IFACE" default:"" description:"Network interface to bind"`
		Port           uint16 `long:"port" env:"PORT" default:"8880" description:"Service port for Hrana and admin requests"`
		DBPath         string `long:"db" env:"DB" default:"rill.db" description:"Path of the SQLite database file"`
		AuthKeys       string `long:"auth-keys" env:"AUTH_KEYS" description:"Whitespace or comma separated, base64-encoded pre-shared keys for bearer token verification. Auth is disabled if unset"`
		MaxConnections int    `long:"max-connections" env:"MAX_CONNECTIONS" default:"1024" description:"Maximum number of concurrent connections"`
		MaxStreams     int    `long:"max-streams" env:"MAX_STREAMS" default:"16" description:"Maximum number of open streams per connection"`
		MaxOutstanding int    `long:"max-outstanding" env:"MAX_OUTSTANDING" default:"128" description:"Maximum number of in-flight requests per connection"`
		StmtCacheSize  int    `long:"stmt-cache-size" env:"STMT_CACHE_SIZE" default:"64" description:"Prepared statements cached per stream session"`
	} `group:"Rill" namespace:"rill" env-namespace:"RILL"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type serveRill struct{}

func (serveRill) Execute(args []string) error {
	mbp.InitLog(Config.Log)

	var nodeID = mbp.NodeID(Config.Rill.ID)
	log.WithFields(log.Fields{
		"id":     nodeID,
		"db":     Config.Rill.DBPath,
		"config": Config,
	}).Info("starting rill")

	var tasks = task.NewGroup(context.Background())

	var be, err = backend.OpenSQLite(tasks.Context(), backend.SQLiteConfig{
		Path:          Config.Rill.DBPath,
		StmtCacheSize: Config.Rill.StmtCacheSize,
	})
	mbp.Must(err, "opening database", "path", Config.Rill.DBPath)

	if info, statErr := os.Stat(Config.Rill.DBPath); statErr == nil {
		log.WithFields(log.Fields{
			"path": Config.Rill.DBPath,
			"size": humanize.Bytes(uint64(info.Size())),
		}).Info("serving database")
	}

	var verifier auth.Verifier
	if Config.Rill.AuthKeys != "" {
		verifier, err = auth.NewKeyedAuth(Config.Rill.AuthKeys)
		mbp.Must(err, "parsing auth keys")
	} else {
		verifier = auth.NewNoopAuth()
	}

	srv, err := server.New(Config.Rill.Iface, Config.Rill.Port)
	mbp.Must(err, "building Server instance")

	var cfg = hrana.DefaultConfig()
	cfg.MaxConnections = Config.Rill.MaxConnections
	cfg.MaxStreams = Config.Rill.MaxStreams
	cfg.MaxOutstanding = Config.Rill.MaxOutstanding

	srv.WSHandler = hrana.NewServer(tasks.Context(), be, verifier, cfg)
	srv.HTTPMux.Handle("/metrics", promhttp.Handler())
	srv.HTTPMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv.QueueTasks(tasks)
	mbp.QueueSignalWatch(tasks)

	log.WithField("endpoint", srv.Endpoint()).Info("serving Hrana")

	tasks.GoRun()
	err = tasks.Wait()

	if closeErr := be.Close(); closeErr != nil {
		log.WithField("err", closeErr).Warn("failed to close database")
	}
	return err
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	_, _ = parser.AddCommand("serve", "Serve as rill server", `
Serve a rill server with the provided configuration, until signaled to
exit (via SIGTERM).
`, &serveRill{})
	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
