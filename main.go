package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	adhoc "QrScanServer/Adhoc"
	"QrScanServer/api"
	"QrScanServer/config"
	"QrScanServer/engine/opencv"
	backend "QrScanServer/gRPC"
	"QrScanServer/logger"
	"QrScanServer/monitor"
	"QrScanServer/scheduler"
	"QrScanServer/sink"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log()

	log.Info("starting",
		zap.Int("cpus", runtime.NumCPU()),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("rpcPort", cfg.RPCPort),
		zap.String("detector", cfg.Detector.Kind),
		zap.Int("workers", cfg.Detector.Workers),
	)
	if cfg.Detector.Kind == config.DetectorOpenCV && cfg.Detector.Workers > runtime.NumCPU() {
		log.Warn("workers exceeds CPU cores, which may lead to performance degradation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, err := monitor.New()
	if err != nil {
		return err
	}

	det, err := buildDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer func() {
		if err := det.Close(); err != nil {
			log.Warn("closing detector", zap.Error(err))
		}
	}()

	recent := sink.NewRecent(cfg.RecentCodes)
	hub := api.NewHub()
	sinks := sink.Fanout{recent, hub, codeLogSink()}
	if cfg.AMQP.URL != "" {
		pub, err := sink.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, cfg.AMQP.Buffer)
		if err != nil {
			log.Warn("amqp unavailable, code reads will not be published", zap.Error(err))
		} else {
			sinks = append(sinks, pub)
			defer func() {
				if err := pub.Close(); err != nil {
					log.Warn("closing amqp publisher", zap.Error(err))
				}
			}()
		}
	}

	sched := scheduler.New(ctx, det.detector, sinks, scheduler.WithLogger(log))
	defer sched.Close()
	if err := mon.RegisterScheduler(sched.Stats); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.StartMon(ctx, cfg.MonitorPort)
	}()

	var rpc *grpc.Server
	if cfg.RPCPort > 0 {
		srv := backend.NewServer(det.name, det.detector,
			backend.WithRequestCounter(mon.GRPCTotal),
			backend.WithServerLogger(log),
		)
		if rpc, err = backend.StartGRPCServer(cfg.RPCPort, srv); err != nil {
			return err
		}
	}

	if cfg.Registry.URL != "" {
		ip, err := GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP, skipping registration", zap.Error(err))
		} else {
			port := cfg.RPCPort
			if port == 0 {
				port = cfg.HTTPPort
			}
			wg.Add(1)
			go adhoc.SendAliveMessage(ctx, &wg, cfg.Registry.URL, ip, port, RegistryRole, cfg.Registry.Interval)
		}
	}

	if cfg.Source.Video != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := opencv.Replay(ctx, cfg.Source.Video, sched.Submit)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("video replay stopped", zap.String("path", cfg.Source.Video), zap.Error(err))
				return
			}
			log.Info("video replay finished", zap.String("path", cfg.Source.Video))
		}()
	}

	apiSrv := api.NewServer(sched, recent, hub,
		api.WithDetector(det.name, det.detector),
		api.WithTimeout(cfg.Detector.Timeout),
		api.WithLogger(log),
	)
	err = apiSrv.Run(ctx, cfg.HTTPPort)
	stop()
	if rpc != nil {
		rpc.GracefulStop()
	}
	wg.Wait()
	log.Info("safely exited")
	return err
}
