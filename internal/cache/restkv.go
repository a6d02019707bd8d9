// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// restTimeout bounds every remote KV call.
const restTimeout = 5 * time.Second

// RESTKVAdapter talks to a remote HTTP key-value service. Every operation is
// a POST carrying a command array (["SET", key, value, "EX", ttl], ["GET",
// key], ...) with bearer-token auth. Values round-trip as base64 text since
// the backend stores opaque strings. An optional namespace prefixes all keys.
type RESTKVAdapter struct {
	baseURL   string
	token     string
	namespace string
	client    *http.Client
}

// NewRESTKVAdapter builds a remote KV adapter. baseURL and token are
// required; namespace is optional.
func NewRESTKVAdapter(baseURL, token, namespace string) *RESTKVAdapter {
	return &RESTKVAdapter{
		baseURL:   baseURL,
		token:     token,
		namespace: namespace,
		client:    &http.Client{Timeout: restTimeout},
	}
}

func (r *RESTKVAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.execute(ctx, []any{"GET", r.prefixed(key)})
	if err != nil {
		return nil, newError(r.Name(), "get", key, err)
	}
	if result == nil {
		return nil, nil
	}
	text, ok := result.(string)
	if !ok {
		return nil, newError(r.Name(), "get", key, fmt.Errorf("unexpected result type %T", result))
	}
	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, newError(r.Name(), "get", key, fmt.Errorf("base64 decode: %w", err))
	}
	return decoded, nil
}

func (r *RESTKVAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	seconds := int(clampTTL(ttl).Seconds())
	encoded := base64.StdEncoding.EncodeToString(value)
	_, err := r.execute(ctx, []any{"SET", r.prefixed(key), encoded, "EX", seconds})
	return newError(r.Name(), "set", key, err)
}

func (r *RESTKVAdapter) SetPersistent(ctx context.Context, key string, value []byte) error {
	encoded := base64.StdEncoding.EncodeToString(value)
	_, err := r.execute(ctx, []any{"SET", r.prefixed(key), encoded})
	return newError(r.Name(), "set_persistent", key, err)
}

func (r *RESTKVAdapter) Delete(ctx context.Context, key string) error {
	_, err := r.execute(ctx, []any{"DEL", r.prefixed(key)})
	return newError(r.Name(), "delete", key, err)
}

func (r *RESTKVAdapter) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.execute(ctx, []any{"EXISTS", r.prefixed(key)})
	if err != nil {
		return false, newError(r.Name(), "exists", key, err)
	}
	return asCount(result) > 0, nil
}

func (r *RESTKVAdapter) Name() string { return "restkv" }

func (r *RESTKVAdapter) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *RESTKVAdapter) prefixed(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + ":" + key
}

// execute POSTs one command array and returns the decoded "result" field.
func (r *RESTKVAdapter) execute(ctx context.Context, command []any) (any, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var envelope struct {
		Result any    `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != "" {
		return nil, fmt.Errorf("backend error: %s", envelope.Error)
	}
	return envelope.Result, nil
}

// asCount interprets the numeric reply of EXISTS/DEL, which may arrive as a
// JSON number or a string depending on the backend.
func asCount(result any) int64 {
	switch v := result.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func truncateBody(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
