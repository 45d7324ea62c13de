package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicexiaonie/order-dispenser/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the order intake HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if serveAddr != "" {
		a.cfg.Addr = serveAddr
	}
	shutdown, err := a.cfg.Shutdown()
	if err != nil {
		return err
	}

	srv := server.NewServer(server.Options{
		Addr:            a.cfg.Addr,
		StaticDir:       a.cfg.StaticDir,
		QRDir:           a.cfg.QR.Dir,
		QRURLPrefix:     a.cfg.QR.URLPrefix,
		RateLimitRPS:    a.cfg.RateLimit.RPS,
		RateLimitBurst:  a.cfg.RateLimit.Burst,
		ShutdownTimeout: shutdown,
	}, a.orders, a.metrics, a.log.WithField("component", "server"))

	a.log.WithFields(logrus.Fields{
		"addr":         a.cfg.Addr,
		"store_driver": a.cfg.Store.Driver,
		"store_path":   a.cfg.Store.Path,
		"qr_dir":       a.cfg.QR.Dir,
	}).Info("Starting order dispenser")

	return srv.Start()
}
