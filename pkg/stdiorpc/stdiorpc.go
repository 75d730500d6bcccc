// Package stdiorpc frames JSON-RPC 2.0 over standard I/O so Paygress can
// be embedded as a subprocess of a host agent. Standard input/output carry
// only framed requests and responses, one per line; every log line this
// transport emits goes through the logger passed to New, which
// internal/app builds to write to standard error. No JSON-RPC library is used: the surface is four methods with no
// batching and no streaming, small enough that bufio.Scanner plus
// encoding/json is simpler than wiring in a dependency for it.
package stdiorpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/DhananjayPurohit/paygress/pkg/admission"
	"github.com/DhananjayPurohit/paygress/pkg/catalog"
)

const jsonRPCVersion = "2.0"

// Standard JSON-RPC 2.0 error codes used here.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Transport is the stdio JSON-RPC front-end.
type Transport struct {
	pipeline *admission.Pipeline
	catalog  *catalog.Catalog
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
}

// New constructs a stdio transport reading from in and writing framed
// responses to out. Production callers pass os.Stdin/os.Stdout; tests pass
// buffers.
func New(pipeline *admission.Pipeline, cat *catalog.Catalog, logger *slog.Logger, in io.Reader, out io.Writer) *Transport {
	return &Transport{pipeline: pipeline, catalog: cat, logger: logger, in: in, out: out}
}

// Run reads newline-delimited JSON-RPC requests from in until EOF or ctx
// is cancelled, dispatching each to the admission pipeline and writing one
// framed response per line.
func (t *Transport) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.handleLine(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (t *Transport) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		t.writeError(nil, codeParseError, "parse error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		t.writeError(req.ID, codeInvalidRequest, "invalid request", nil)
		return
	}

	switch req.Method {
	case "list_tiers":
		t.handleListTiers(req)
	case "spawn":
		t.handleSpawn(ctx, req)
	case "topup":
		t.handleTopUp(ctx, req)
	case "status":
		t.handleStatus(req)
	default:
		t.writeError(req.ID, codeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

func (t *Transport) handleListTiers(req request) {
	t.writeResult(req.ID, t.catalog.Tiers())
}

type spawnParams struct {
	CashuToken            string `json:"cashu_token"`
	PodSpecID             string `json:"pod_spec_id,omitempty"`
	PodImage              string `json:"pod_image"`
	SSHUsername           string `json:"ssh_username"`
	SSHPassword           string `json:"ssh_password"`
	DurationSecs          int64  `json:"duration_secs,omitempty"`
}

func (t *Transport) handleSpawn(ctx context.Context, req request) {
	var params spawnParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.writeError(req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}

	details, err := t.pipeline.Spawn(ctx, admission.SpawnRequest{
		TokenStr:              params.CashuToken,
		TierID:                params.PodSpecID,
		Image:                 params.PodImage,
		SSHUser:               params.SSHUsername,
		SSHPassword:           params.SSHPassword,
		RequestedDurationSecs: params.DurationSecs,
	})
	if err != nil {
		t.writeAdmissionError(req.ID, err)
		return
	}
	t.writeResult(req.ID, details)
}

type topupParams struct {
	PodIdentity string `json:"pod_identity"`
	CashuToken  string `json:"cashu_token"`
}

func (t *Transport) handleTopUp(ctx context.Context, req request) {
	var params topupParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.writeError(req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}

	result, err := t.pipeline.TopUp(ctx, admission.TopUpRequest{
		PodIdentity: params.PodIdentity,
		TokenStr:    params.CashuToken,
	})
	if err != nil {
		t.writeAdmissionError(req.ID, err)
		return
	}
	t.writeResult(req.ID, result)
}

type statusParams struct {
	PodIdentity string `json:"pod_identity"`
}

func (t *Transport) handleStatus(req request) {
	var params statusParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.writeError(req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}

	status, err := t.pipeline.Status(params.PodIdentity)
	if err != nil {
		t.writeAdmissionError(req.ID, err)
		return
	}
	t.writeResult(req.ID, status)
}

func (t *Transport) writeAdmissionError(id json.RawMessage, err error) {
	var admErr *admission.Error
	if errors.As(err, &admErr) {
		t.writeError(id, codeInternalError, admErr.Message, map[string]any{
			"error_type": admErr.Kind,
			"details":    admErr.Details,
		})
		return
	}
	t.writeError(id, codeInternalError, "internal error", nil)
}

func (t *Transport) writeResult(id json.RawMessage, result any) {
	t.write(response{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (t *Transport) writeError(id json.RawMessage, code int, message string, data any) {
	t.write(response{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message, Data: data}})
}

func (t *Transport) write(resp response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("marshal rpc response", "error", err)
		return
	}
	raw = append(raw, '\n')
	if _, err := t.out.Write(raw); err != nil {
		t.logger.Error("write rpc response", "error", err)
	}
}
