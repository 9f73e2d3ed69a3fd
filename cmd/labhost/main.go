package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KilianBerger/OpenLabHost/internal/api/rest"
	"github.com/KilianBerger/OpenLabHost/internal/api/websocket"
	"github.com/KilianBerger/OpenLabHost/internal/auth"
	"github.com/KilianBerger/OpenLabHost/internal/bus"
	"github.com/KilianBerger/OpenLabHost/internal/cert"
	"github.com/KilianBerger/OpenLabHost/internal/config"
	"github.com/KilianBerger/OpenLabHost/internal/devices"
	"github.com/KilianBerger/OpenLabHost/internal/record"
	"github.com/KilianBerger/OpenLabHost/internal/rpc"
	"github.com/KilianBerger/OpenLabHost/internal/system"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "path to the host configuration file")
	deviceConfigPath := pflag.String("device-config", "", "path to the device configuration (overrides the config file)")
	serverIP := pflag.String("server-ip", "", "IP address the device services bind to")
	serverBasePort := pflag.Int("server-base-port", devices.DefaultBasePort, "base port for device service port assignment")
	regenerateCerts := pflag.Bool("regenerate-certificates", false, "discard and regenerate all service certificates")
	generateToken := pflag.Bool("generate-token", false, "generate a new admin API token and exit")
	pflag.Parse()

	if *generateToken {
		token, hash, err := auth.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("token: %s\nhash:  %s\n", token, hash)
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *configPath, *deviceConfigPath, *serverIP, *serverBasePort, *regenerateCerts); err != nil {
		logger.Fatal("Host failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, configPath, deviceConfigPath, serverIP string, basePort int, regenerateCerts bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if deviceConfigPath == "" {
		deviceConfigPath = cfg.Devices.ConfigPath
	}

	loader, err := devices.NewLoader(logger)
	if err != nil {
		return err
	}
	devCfg, err := loader.Load(deviceConfigPath)
	if err != nil {
		return err
	}

	// Kommandozeile schlägt Konfigurationsdatei.
	if serverIP != "" {
		devCfg.ServerIP = serverIP
	}
	basePortOverridden := pflag.CommandLine.Changed("server-base-port")
	if basePortOverridden {
		devCfg.ServerBasePort = basePort
	}
	if regenerateCerts {
		devCfg.RegenerateCertificates = true
	}

	records := record.NewStore(cfg.State.Dir, logger)
	certs := cert.NewStore(records, cfg.TLS.Validity, cfg.TLS.RenewalThreshold, cfg.TLS.RenewalPeriod, logger)

	factory := func(dev *devices.Device, rec *record.ServiceRecord, traffic *rpc.TrafficMonitor, systemState func() string) (rpc.Service, error) {
		return rpc.NewGRPCService(dev.Name, rec.UUID, nil, traffic, systemState, logger), nil
	}

	controller := system.NewController(cfg, devCfg, bus.NewSimBus(), records, certs,
		factory, system.NewHostPower(logger), basePortOverridden, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()
	controller.SetStateNotifier(hub)

	apiServer := rest.NewServer(controller, hub, cfg.Auth.APITokenHash(), cfg.Server.HTTPPort, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("Admin API stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, stopping", zap.String("signal", sig.String()))
		controller.RequestStop()
	}()

	runErr := controller.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin API shutdown failed", zap.Error(err))
	}
	hub.Shutdown()

	return runErr
}
