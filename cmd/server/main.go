package main

import (
	"fmt"
	"net/http"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/CK6170/Rotorbalance-go/internal/config"
	"github.com/CK6170/Rotorbalance-go/internal/logging"
	"github.com/CK6170/Rotorbalance-go/internal/publish"
	"github.com/CK6170/Rotorbalance-go/internal/server"
)

func main() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	pub, err := publish.New(cfg.MQTT, log)
	if err != nil {
		log.Fatal("mqtt connect failed", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
	}
	defer pub.Close()

	if cfg.Web != "" {
		if st, err := os.Stat(cfg.Web); err != nil || !st.IsDir() {
			log.Warn("web root not found, serving API only", zap.String("web", cfg.Web))
			cfg.Web = ""
		}
	}

	s := server.New(server.Options{
		Sweep:     cfg.Sweep,
		Web:       cfg.Web,
		Logger:    log,
		Publisher: pub,
	})
	log.Info("serving",
		zap.String("addr", "http://"+cfg.Addr),
		zap.String("metrics", "http://"+cfg.Addr+"/metrics"),
		zap.Bool("ui", cfg.Web != ""),
	)
	if err := http.ListenAndServe(cfg.Addr, s.Handler()); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}
