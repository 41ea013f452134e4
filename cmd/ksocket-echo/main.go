// Command ksocket-echo runs a minimal KSockets server that echoes every
// message it receives back to the sender, plus a small HTTP health
// endpoint reporting the active session count. It exists to exercise the
// ksocket/handshake/framing/envelope/codec stack end-to-end the way
// cmd/newblocks exercises the rpc package end-to-end against a live node.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"

	"github.com/Kinuseka/KSockets/internal/ksocketlog"
	"github.com/Kinuseka/KSockets/ksocket"
)

var log = ksocketlog.Bind("ksocket-echo")

// fileConfig is the shape of an optional TOML config file; any value also
// settable by flag is overridden by an explicit flag.
type fileConfig struct {
	Addr                    string `toml:"addr"`
	HealthAddr              string `toml:"health_addr"`
	ChunkSize               int    `toml:"chunk_size"`
	SuggestChunkSize        bool   `toml:"suggest_chunk_size"`
	CompressionLevel        int    `toml:"compression_level"`
	ProxyAware              bool   `toml:"proxy_aware"`
	LivenessIntervalSeconds int    `toml:"liveness_interval_seconds"`
}

func main() {
	app := &cli.App{
		Name:  "ksocket-echo",
		Usage: "run a KSockets echo server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:9753", Usage: "address to listen on"},
			&cli.StringFlag{Name: "health-addr", Value: "", Usage: "address for the /healthz endpoint; empty disables it"},
			&cli.IntFlag{Name: "chunk-size", Value: 0, Usage: "fixed chunk size to advertise (0 = library default)"},
			&cli.BoolFlag{Name: "suggest-chunk-size", Value: false, Usage: "let connecting clients pick the chunk size"},
			&cli.IntFlag{Name: "compression-level", Value: 0, Usage: "zstd level to negotiate, 0 disables compression"},
			&cli.BoolFlag{Name: "proxy-aware", Value: false, Usage: "accept a PROXY v1/v2 preamble ahead of the handshake"},
			&cli.IntFlag{Name: "liveness-interval", Value: 0, Usage: "seconds between liveness pings (0 = library default)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("ksocket-echo exited")
	}
}

func run(c *cli.Context) error {
	cfg := fileConfig{Addr: c.String("addr")}
	if path := c.String("config"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return err
		}
	}
	applyFlagOverrides(c, &cfg)

	srv := ksocket.NewServer(ksocket.ServerConfig{
		ChunkSize:        cfg.ChunkSize,
		SuggestChunkSize: cfg.SuggestChunkSize,
		CompressionLevel: cfg.CompressionLevel,
		ProxyAware:       cfg.ProxyAware,
		LivenessInterval: time.Duration(cfg.LivenessIntervalSeconds) * time.Second,
	})
	if err := srv.Listen(cfg.Addr); err != nil {
		return err
	}
	defer srv.Close()

	if cfg.HealthAddr != "" {
		go serveHealth(cfg.HealthAddr, srv)
	}

	log.Info().Str("addr", srv.Addr().String()).Msg("ksocket-echo listening")
	return srv.AcceptLoop(func(sess *ksocket.Session) {
		go echoSession(sess)
	})
}

func applyFlagOverrides(c *cli.Context, cfg *fileConfig) {
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("health-addr") {
		cfg.HealthAddr = c.String("health-addr")
	}
	if c.IsSet("chunk-size") {
		cfg.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("suggest-chunk-size") {
		cfg.SuggestChunkSize = c.Bool("suggest-chunk-size")
	}
	if c.IsSet("compression-level") {
		cfg.CompressionLevel = c.Int("compression-level")
	}
	if c.IsSet("proxy-aware") {
		cfg.ProxyAware = c.Bool("proxy-aware")
	}
	if c.IsSet("liveness-interval") {
		cfg.LivenessIntervalSeconds = c.Int("liveness-interval")
	}
}

func echoSession(sess *ksocket.Session) {
	log.Info().Str("id", sess.ID().String()).Msg("session accepted")
	for {
		v, err := sess.Receive()
		if err != nil {
			log.Debug().Str("id", sess.ID().String()).Err(err).Msg("session ended")
			return
		}
		if _, err := sess.Send(v); err != nil {
			log.Debug().Str("id", sess.ID().String()).Err(err).Msg("echo send failed")
			return
		}
	}
}

// serveHealth exposes session-count health data behind rs/cors so a
// browser-based dashboard on a different origin can poll it directly.
func serveHealth(addr string, srv *ksocket.Server) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		active := 0
		for _, sess := range srv.Sessions() {
			if sess.IsActive() {
				active++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			ActiveSessions int `json:"active_sessions"`
		}{ActiveSessions: active})
	})

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	log.Info().Str("addr", addr).Msg("health endpoint listening")
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Error().Err(err).Msg("health endpoint stopped")
	}
}
