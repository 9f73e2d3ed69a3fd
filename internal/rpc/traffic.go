// Package rpc runs one gRPC server per device service, terminating TLS with
// the service's own certificate and tracking client traffic for the
// inactivity guard.
package rpc

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
)

// TrafficMonitor tracks when the last client request was seen across all
// device services. The inactivity guard reads it, the server interceptors
// feed it. Health checks do not count as traffic.
type TrafficMonitor struct {
	deadline atomic.Int64
	window   time.Duration
}

func NewTrafficMonitor(window time.Duration) *TrafficMonitor {
	m := &TrafficMonitor{window: window}
	m.Touch()
	return m
}

// Touch pushes the inactivity deadline out by the full window.
func (m *TrafficMonitor) Touch() {
	m.deadline.Store(time.Now().Add(m.window).UnixNano())
}

// Expired reports whether the traffic window has elapsed without a request.
func (m *TrafficMonitor) Expired() bool {
	return time.Now().UnixNano() > m.deadline.Load()
}

// Deadline returns the current inactivity deadline.
func (m *TrafficMonitor) Deadline() time.Time {
	return time.Unix(0, m.deadline.Load())
}

func isHealthCheck(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}

// UnaryInterceptor records every unary call as client traffic.
func (m *TrafficMonitor) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isHealthCheck(info.FullMethod) {
			m.Touch()
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor records every opened stream as client traffic.
func (m *TrafficMonitor) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !isHealthCheck(info.FullMethod) {
			m.Touch()
		}
		return handler(srv, ss)
	}
}
