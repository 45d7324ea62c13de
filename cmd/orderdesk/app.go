package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nicexiaonie/order-dispenser/internal/config"
	"github.com/nicexiaonie/order-dispenser/internal/encoder"
	"github.com/nicexiaonie/order-dispenser/internal/logging"
	"github.com/nicexiaonie/order-dispenser/internal/metrics"
	"github.com/nicexiaonie/order-dispenser/internal/order"
	"github.com/nicexiaonie/order-dispenser/internal/sequence"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   sequence.Store
	alloc   *sequence.Allocator
	enc     *encoder.Encoder
	metrics *metrics.Metrics
	orders  *order.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := sequence.OpenStore(sequence.Driver(cfg.Store.Driver), cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open counter store: %w", err)
	}

	opts := []sequence.Option{
		sequence.WithLocation(loc),
		sequence.WithLogger(log.WithField("component", "sequence")),
	}
	if cfg.Store.LockName != "" {
		opts = append(opts, sequence.WithProcessLock(cfg.Store.LockName, sequence.DefaultLockTimeout))
	}
	alloc := sequence.NewAllocator(store, opts...)

	m := metrics.New()
	m.RegisterAllocator(alloc)

	enc, err := encoder.New(cfg.QR.Dir,
		encoder.WithURLPrefix(cfg.QR.URLPrefix),
		encoder.WithLogger(log.WithField("component", "encoder")),
		encoder.WithObserver(m.ObserveEncode),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		alloc:   alloc,
		enc:     enc,
		metrics: m,
		orders:  order.NewService(alloc, enc, log.WithField("component", "order")),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
