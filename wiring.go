package main

import (
	"fmt"
	"io"
	"net"

	adhoc "QrScanServer/Adhoc"
	"QrScanServer/config"
	"QrScanServer/engine"
	"QrScanServer/engine/opencv"
	backend "QrScanServer/gRPC"
	iface "QrScanServer/interface"
	"QrScanServer/logger"

	"go.uber.org/zap"
)

// RegistryRole is announced to the registry by the heartbeat.
const RegistryRole = "qrscan"

func GetOutboundIP() (string, error) {
	// UDP dial only resolves the route; nothing is sent.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

type detectorHandle struct {
	name     string
	detector iface.Detector
	closer   io.Closer
}

func (h detectorHandle) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// buildDetector picks the detector implementation named by cfg.Kind.
func buildDetector(cfg config.DetectorConfig) (detectorHandle, error) {
	switch cfg.Kind {
	case config.DetectorOpenCV:
		pool := engine.NewPool(opencv.NewQRBackend(), cfg.Workers,
			engine.WithTimeout(cfg.Timeout),
			engine.WithLogger(logger.Log()),
		)
		return detectorHandle{name: opencv.BackendName, detector: pool, closer: pool}, nil
	case config.DetectorGRPC:
		client, err := backend.Dial(cfg.Address, cfg.Timeout)
		if err != nil {
			return detectorHandle{}, fmt.Errorf("dial grpc detector %s: %w", cfg.Address, err)
		}
		return detectorHandle{name: "grpc", detector: client, closer: client}, nil
	case config.DetectorHTTP:
		return detectorHandle{name: "http", detector: adhoc.NewClient(cfg.Address, cfg.Timeout)}, nil
	default:
		return detectorHandle{}, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

func codeLogSink() iface.CodeSink {
	log := logger.Log()
	return iface.SinkFunc(func(payload string) {
		log.Info("code read", zap.String("payload", payload))
	})
}
