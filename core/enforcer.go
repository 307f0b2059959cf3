package core

// Enforcer gRPC client (§6) – proto compiled separately; the request/response
// shapes below are the minimal stub interface this core depends on, mirroring
// core/ai.go's AIStubClient pattern: the wire types are whatever the injected
// stub produces, this file only narrows them down to what the block engine
// and mainchain fetch task actually need.

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// TipRequest/TipResponse and BlockInfosRequest/BlockInfosResponse are the
// enforcer validator service's two read methods (§6 "chain tip, block
// info"). Height is the parent chain's canonical height for the hash; a
// response with IsGenesis set terminates an ancestor walk.
type TipRequest struct{}

type TipResponse struct {
	Hash   Hash
	Height uint64
}

type BlockInfosRequest struct {
	FromHash Hash
	Limit    uint32
}

type BlockInfoWire struct {
	Hash      Hash
	PrevHash  Hash
	Height    uint64
	IsGenesis bool
}

type BlockInfosResponse struct {
	Infos []BlockInfoWire
}

// EnforcerStubClient is the generated gRPC client this package would import
// from a compiled .proto; callers of NewEnforcerClient supply their own
// implementation (real grpc-generated stub in production, a fake in tests).
type EnforcerStubClient interface {
	Tip(ctx context.Context, req *TipRequest) (*TipResponse, error)
	BlockInfos(ctx context.Context, req *BlockInfosRequest) (*BlockInfosResponse, error)
}

// EnforcerClient is the narrow interface the block engine's mainchain fetch
// task and periodic tip-probe driver depend on (§4.7, §4.8).
type EnforcerClient interface {
	Tip(ctx context.Context) (MainHeaderRecord, error)
	// BlockInfos batches up to 1000 ancestor headers per request (§6),
	// walking backwards from fromHash.
	BlockInfos(ctx context.Context, fromHash Hash, limit int) ([]MainHeaderRecord, error)
	HealthCheck(ctx context.Context) error
}

const maxBlockInfosPerRequest = 1000

type grpcEnforcerClient struct {
	conn   *grpc.ClientConn
	stub   EnforcerStubClient
	health grpc_health_v1.HealthClient
}

// DialEnforcer connects to the enforcer over plaintext gRPC (the teacher's
// AI module dials the same way via insecure.NewCredentials; the enforcer
// link is expected to run over a private, already-authenticated transport)
// and wires a health check via the standard grpc.health.v1 service (§6
// "health check").
func DialEnforcer(ctx context.Context, target string, stub EnforcerStubClient) (EnforcerClient, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("core: enforcer: dial %s: %w", target, err)
	}
	return &grpcEnforcerClient{
		conn:   conn,
		stub:   stub,
		health: grpc_health_v1.NewHealthClient(conn),
	}, nil
}

func (c *grpcEnforcerClient) Close() error { return c.conn.Close() }

func (c *grpcEnforcerClient) Tip(ctx context.Context) (MainHeaderRecord, error) {
	resp, err := c.stub.Tip(ctx, &TipRequest{})
	if err != nil {
		return MainHeaderRecord{}, fmt.Errorf("core: enforcer: tip: %w", err)
	}
	return MainHeaderRecord{Hash: resp.Hash, Height: resp.Height}, nil
}

func (c *grpcEnforcerClient) BlockInfos(ctx context.Context, fromHash Hash, limit int) ([]MainHeaderRecord, error) {
	if limit <= 0 || limit > maxBlockInfosPerRequest {
		limit = maxBlockInfosPerRequest
	}
	resp, err := c.stub.BlockInfos(ctx, &BlockInfosRequest{FromHash: fromHash, Limit: uint32(limit)})
	if err != nil {
		return nil, fmt.Errorf("core: enforcer: block_infos: %w", err)
	}
	out := make([]MainHeaderRecord, len(resp.Infos))
	for i, info := range resp.Infos {
		out[i] = MainHeaderRecord{
			Hash:      info.Hash,
			PrevHash:  info.PrevHash,
			Height:    info.Height,
			IsGenesis: info.IsGenesis,
		}
	}
	return out, nil
}

func (c *grpcEnforcerClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("core: enforcer: health check: %w", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("core: enforcer: not serving: %s", resp.Status)
	}
	return nil
}
