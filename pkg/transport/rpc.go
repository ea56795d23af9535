package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on engine types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// ReportRequest names an endpoint the caller could not use.
type ReportRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ReportResponse tells whether the endpoint was known and has been removed.
type ReportResponse struct {
	Removed bool   `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// ReportFunc handles bad endpoint reports.
type ReportFunc func(ctx context.Context, req ReportRequest) (ReportResponse, error)

// RPCServer exposes the management endpoints (status, report) of one engine.
type RPCServer interface {
	Start(ctx context.Context, status StatusFunc, report ReportFunc) error
	Addr() string
	Stop(ctx context.Context) error
}

// RPCClient calls the management endpoints of an engine using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
	GetStatus(ctx context.Context, addr string) ([]byte, error)
	PostReport(ctx context.Context, addr string, req ReportRequest) (ReportResponse, error)
}
