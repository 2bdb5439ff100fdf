package astrology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ComputeChartMethod is the full gRPC method name served by the chart engine.
// Requests and responses are google.protobuf.Struct messages.
const ComputeChartMethod = "/astrology.v1.ChartEngine/ComputeChart"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMalformedResponse        = errors.New("malformed engine response")
)

// GrpcEngineConfig holds configuration for the engine client.
type GrpcEngineConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcEngineConfig returns default configuration for addr.
func DefaultGrpcEngineConfig(addr string) GrpcEngineConfig {
	return GrpcEngineConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcEngine calls the chart engine over gRPC.
type GrpcEngine struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

var _ Engine = (*GrpcEngine)(nil)

// NewGrpcEngine connects to the chart engine and waits until the connection is ready.
func NewGrpcEngine(cfg GrpcEngineConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create chart engine client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad engine address.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("Failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("chart engine at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to chart engine", "address", cfg.Address)
	return &GrpcEngine{conn: conn, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (e *GrpcEngine) Close() {
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			e.logger.Warn("Failed to close gRPC connection", "error", err)
		}
	}
}

// ComputeChart sends one unary request. NOT_FOUND maps to ErrLocationNotFound.
func (e *GrpcEngine) ComputeChart(ctx context.Context, s Subject) (RawChart, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{
		"name":              s.Name,
		"year":              s.Year,
		"month":             s.Month,
		"day":               s.Day,
		"hour":              s.Hour,
		"minute":            s.Minute,
		"city":              s.City,
		"nation":            s.Country,
		"house_system":      s.HouseSystem,
		"geonames_username": s.GeonamesUsername,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, ComputeChartMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, status.Convert(err).Message())
		}
		return nil, fmt.Errorf("compute chart: %w", err)
	}
	return decodeChart(resp)
}

func decodeChart(resp *structpb.Struct) (RawChart, error) {
	points := resp.GetFields()["points"].GetStructValue()
	if points == nil {
		return nil, fmt.Errorf("%w: missing points", errMalformedResponse)
	}

	chart := make(RawChart, len(points.GetFields()))
	for name, v := range points.GetFields() {
		p := v.GetStructValue()
		if p == nil {
			continue
		}
		f := p.GetFields()
		if _, ok := f["abs_pos"]; !ok {
			continue
		}
		chart[name] = RawPoint{
			Sign:       f["sign"].GetStringValue(),
			Position:   f["position"].GetNumberValue(),
			AbsPos:     f["abs_pos"].GetNumberValue(),
			House:      int(f["house"].GetNumberValue()),
			Retrograde: f["retrograde"].GetBoolValue(),
		}
	}
	return chart, nil
}
