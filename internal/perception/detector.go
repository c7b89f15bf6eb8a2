package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// DetectMethod is the full gRPC method name of the batch detector.
const DetectMethod = "/perception.v1.ObstacleDetector/DetectBatch"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	// ErrTooManyImages is returned for batches larger than MaxImages.
	ErrTooManyImages = fmt.Errorf("at most %d images per batch", MaxImages)
)

// Detector runs obstacle detection on base64-encoded images and returns one
// Result per image.
type Detector interface {
	DetectBatch(ctx context.Context, images []string) ([]Result, error)
}

// Mock returns fixed detections: stairs ahead-left and an obstacle to the right.
type Mock struct{}

// DetectBatch implements Detector.
func (Mock) DetectBatch(_ context.Context, images []string) ([]Result, error) {
	out := make([]Result, len(images))
	for i := range out {
		out[i] = Result{Detections: []Detection{
			{Class: 0, Confidence: 0.85, BBox: [4]float64{100, 200, 300, 400}},
			{Class: 2, Confidence: 0.75, BBox: [4]float64{400, 150, 500, 350}},
		}}
	}
	return out, nil
}

// GrpcDetectorConfig holds configuration for the detector client.
type GrpcDetectorConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcDetectorConfig returns default configuration for addr.
func DefaultGrpcDetectorConfig(addr string) GrpcDetectorConfig {
	return GrpcDetectorConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   15 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcDetector calls a remote detection service. Messages are exchanged as
// google.protobuf.Struct so no generated stubs are needed.
type GrpcDetector struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcDetector dials the detection service and waits until it is ready.
func NewGrpcDetector(cfg GrpcDetectorConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcDetector, error) {
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
		return nil, fmt.Errorf("failed to connect to detector at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("detector at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to obstacle detector", "address", cfg.Address)
	return &GrpcDetector{conn: conn, timeout: cfg.RequestTimeout, logger: logger}, nil
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
func (d *GrpcDetector) Close() {
	if err := d.conn.Close(); err != nil {
		d.logger.Warn("failed to close gRPC connection", "error", err)
	}
}

// DetectBatch implements Detector.
func (d *GrpcDetector) DetectBatch(ctx context.Context, images []string) ([]Result, error) {
	if len(images) > MaxImages {
		return nil, ErrTooManyImages
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	list := make([]any, len(images))
	for i, img := range images {
		list[i] = img
	}
	req, err := structpb.NewStruct(map[string]any{"images": list})
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := d.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		return nil, fmt.Errorf("detect batch: %w", err)
	}
	return decodeResults(resp)
}

func decodeResults(resp *structpb.Struct) ([]Result, error) {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode detect response: %w", err)
	}
	var body struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	return body.Results, nil
}
