package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/KilianBerger/OpenLabHost/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Service is one network-facing device service with its own port and TLS
// identity.
type Service interface {
	// Start brings the service up on address:port with the given PEM key
	// pair. caForDiscovery is the trust anchor advertised to discovering
	// clients; discovery itself happens only when enableDiscovery is set.
	Start(address string, port int, privateKey, certChain, caForDiscovery []byte, enableDiscovery bool) error
	Stop() error
	Name() string
	UniqueID() uuid.UUID
}

// Registrar registers device-specific gRPC handlers on a server.
type Registrar interface {
	Register(s grpc.ServiceRegistrar)
}

// GRPCService is the standard Service implementation: a TLS gRPC server with
// a health endpoint, traffic tracking and a guard that rejects calls while
// the system is not operational.
type GRPCService struct {
	name      string
	uniqueID  uuid.UUID
	registrar Registrar
	traffic   *TrafficMonitor

	// systemState gates device calls during stopped and shutdown states.
	systemState func() string

	logger *zap.Logger

	mu        sync.Mutex
	server    *grpc.Server
	health    *health.Server
	announcer *Announcer
	running   bool
}

func NewGRPCService(name string, uniqueID uuid.UUID, registrar Registrar, traffic *TrafficMonitor, systemState func() string, logger *zap.Logger) *GRPCService {
	return &GRPCService{
		name:        name,
		uniqueID:    uniqueID,
		registrar:   registrar,
		traffic:     traffic,
		systemState: systemState,
		logger:      logger,
	}
}

func (g *GRPCService) Name() string { return g.name }

func (g *GRPCService) UniqueID() uuid.UUID { return g.uniqueID }

func (g *GRPCService) Start(address string, port int, privateKey, certChain, caForDiscovery []byte, enableDiscovery bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("service %s already started", g.name)
	}

	pair, err := tls.X509KeyPair(certChain, privateKey)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	server := grpc.NewServer(
		grpc.Creds(credentials.NewServerTLSFromCert(&pair)),
		grpc.ChainUnaryInterceptor(g.traffic.UnaryInterceptor(), g.operationalUnary()),
		grpc.ChainStreamInterceptor(g.traffic.StreamInterceptor(), g.operationalStream()),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	if g.registrar != nil {
		g.registrar.Register(server)
	}

	g.server = server
	g.health = healthSrv
	g.running = true

	go func() {
		if err := server.Serve(listener); err != nil {
			g.logger.Error("Service stopped serving",
				zap.String("service", g.name),
				zap.Error(err))
		}
	}()

	g.logger.Info("Service started",
		zap.String("service", g.name),
		zap.String("address", address),
		zap.Int("port", port))

	if enableDiscovery {
		announcer, err := Announce(g.name, g.uniqueID, port, caForDiscovery, g.logger)
		if err != nil {
			// Discovery is best effort, the service itself is up.
			g.logger.Warn("Failed to announce service",
				zap.String("service", g.name),
				zap.Error(err))
		} else {
			g.announcer = announcer
		}
	}
	return nil
}

func (g *GRPCService) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}

	if g.announcer != nil {
		g.announcer.Shutdown()
		g.announcer = nil
	}
	g.health.Shutdown()
	g.server.GracefulStop()
	g.running = false

	g.logger.Info("Service stopped", zap.String("service", g.name))
	return nil
}

// stateOperational mirrors the controller's serving-state name.
const stateOperational = "operational"

func (g *GRPCService) rejectNotOperational() error {
	state := g.systemState()
	if state == stateOperational {
		return nil
	}
	err := &types.DeviceNotOperationalError{Device: g.name, State: state}
	return status.Error(codes.Unavailable, err.Error())
}

func (g *GRPCService) operationalUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isHealthCheck(info.FullMethod) {
			if err := g.rejectNotOperational(); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

func (g *GRPCService) operationalStream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !isHealthCheck(info.FullMethod) {
			if err := g.rejectNotOperational(); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}
