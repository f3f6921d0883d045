// Package proxyserver implements the end-to-end request pipeline from
// SPEC_FULL.md §4.5: classify → extract routing key → authenticate →
// rate-limit → forward → stream response, stripping identifying headers.
package proxyserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxClassifyBody bounds the request body that is buffered to classify the
// request and extract routing params. The buffered body is what gets
// forwarded upstream; a longer body is rejected with 400.
const maxClassifyBody = 1 << 20

// jsonRPCEnvelope is the shape a POST body must have to be treated as
// JSON-RPC, per spec.md §4.5 step 1.
type jsonRPCEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcParams struct {
	RequestID *string `json:"requestId"`
	ShardID   *int64  `json:"shardId"`
}

// classified is the result of inspecting an inbound request.
type classified struct {
	isJSONRPC bool
	method    string
	requestID string // set iff routing by request id
	hasReqID  bool
	shardID   int32
	hasShard  bool
	body      []byte // the body read during classification, to be replayed downstream
}

// classifyRequest reads (and buffers) the body, determining whether this
// is a JSON-RPC call and, if so, its method and params.
func classifyRequest(r *http.Request) (classified, error) {
	if r.Body == nil {
		return classified{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxClassifyBody+1))
	if err != nil {
		return classified{}, fmt.Errorf("proxyserver: read request body: %w", err)
	}
	if len(body) > maxClassifyBody {
		return classified{}, fmt.Errorf("proxyserver: request body exceeds limit")
	}
	if r.Method != http.MethodPost {
		return classified{body: body}, nil
	}

	var env jsonRPCEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.JSONRPC == "" || env.Method == "" {
		return classified{body: body}, nil
	}

	c := classified{isJSONRPC: true, method: env.Method, body: body}

	if len(env.Params) > 0 {
		var p rpcParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			if p.RequestID != nil {
				c.requestID = *p.RequestID
				c.hasReqID = true
			}
			if p.ShardID != nil {
				c.shardID = int32(*p.ShardID)
				c.hasShard = true
			}
		}
	}
	return c, nil
}

// extractRoutingKey resolves the routing key per spec.md §4.5 step 2,
// falling back to cookies for non-JSON-RPC traffic.
func extractRoutingKey(r *http.Request, c classified) (requestID string, hasReqID bool, shardID int32, hasShard bool, err error) {
	if c.isJSONRPC {
		if c.hasReqID && c.hasShard {
			return "", false, 0, false, fmt.Errorf("Cannot specify both requestId and shardId")
		}
		if !c.hasReqID && !c.hasShard {
			return "", false, 0, false, fmt.Errorf("JSON-RPC requests must include either requestId or shardId")
		}
		return c.requestID, c.hasReqID, c.shardID, c.hasShard, nil
	}

	reqIDCookie, reqErr := r.Cookie("UNICITY_REQUEST_ID")
	shardCookie, shardErr := r.Cookie("UNICITY_SHARD_ID")
	haveReq := reqErr == nil && reqIDCookie.Value != ""
	haveShard := shardErr == nil && shardCookie.Value != ""

	if haveReq && haveShard {
		return "", false, 0, false, fmt.Errorf("Cannot specify both requestId and shardId")
	}
	if haveReq {
		return reqIDCookie.Value, true, 0, false, nil
	}
	if haveShard {
		id, err := strconv.ParseInt(shardCookie.Value, 10, 32)
		if err != nil {
			return "", false, 0, false, fmt.Errorf("invalid shard id cookie")
		}
		return "", false, int32(id), true, nil
	}
	return "", false, 0, false, nil // neither present: caller uses RandomTarget
}

// extractCredential reads X-API-Key, falling back to a deprecated
// Authorization: Bearer header, per spec.md §4.5 step 3.
func extractCredential(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	return "", false
}
