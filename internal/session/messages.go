package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Inbound commands.
const (
	CommandLoad       = "load"
	CommandClearCache = "clearCache"
)

// Response is the reply to every inbound message.
type Response struct {
	ResultJSON string `json:"resultJson"`
}

// Request is a decoded inbound message.
type Request struct {
	Command       string
	ForceRefresh  bool
	AutoCreateTab bool
}

// DecodeRequest parses an inbound message. A message must be a JSON object
// with a string "command"; autoCreateTab defaults to true.
func DecodeRequest(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, fmt.Errorf("decode message: %w", err)
	}
	if fields == nil {
		return Request{}, fmt.Errorf("message is not an object")
	}

	req := Request{AutoCreateTab: true}
	cmd, ok := fields["command"]
	if !ok {
		return Request{}, fmt.Errorf("message has no command")
	}
	if err := json.Unmarshal(cmd, &req.Command); err != nil {
		return Request{}, fmt.Errorf("command is not a string: %w", err)
	}
	if v, ok := fields["forceRefresh"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &req.ForceRefresh); err != nil {
			return Request{}, fmt.Errorf("forceRefresh is not a boolean: %w", err)
		}
	}
	if v, ok := fields["autoCreateTab"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &req.AutoCreateTab); err != nil {
			return Request{}, fmt.Errorf("autoCreateTab is not a boolean: %w", err)
		}
	}
	return req, nil
}

// HandleMessage dispatches an inbound message. It never fails: every outcome
// is a JSON string in the response.
func (s *Service) HandleMessage(ctx context.Context, raw []byte) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session message handler panic", "panic", r)
			resp = Response{ResultJSON: Fail(fmt.Sprint(r), CodeHandlerError).JSON()}
		}
	}()

	req, err := DecodeRequest(raw)
	if err != nil {
		slog.Warn("session received invalid message", "error", err)
		return Response{ResultJSON: Fail("Invalid message format", CodeInvalidMessage).JSON()}
	}

	switch req.Command {
	case CommandLoad:
		return Response{ResultJSON: s.Load(ctx, req.ForceRefresh, req.AutoCreateTab)}
	case CommandClearCache:
		return Response{ResultJSON: s.ClearCache(ctx)}
	default:
		slog.Warn("session received unknown command", "command", req.Command)
		return Response{ResultJSON: Fail("Unknown command: "+req.Command, CodeUnknownCommand).JSON()}
	}
}
