package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/optlayer/optlayer"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// KeyGenerator generates cache keys from requests
type KeyGenerator interface {
	// GenerateKey creates a cache key from the request
	GenerateKey(req *optlayer.Request) (string, error)
}

// RequestKeyGenerator is the default key generation strategy. Keys have the
// form METHOD:PATH?a=1&b=2 with query parameters sorted by name, so that the
// order in which a client sends parameters does not matter.
type RequestKeyGenerator struct{}

// NewRequestKeyGenerator creates a new default key generator
func NewRequestKeyGenerator() *RequestKeyGenerator {
	return &RequestKeyGenerator{}
}

// GenerateKey generates a cache key from method, path and sorted query
func (g *RequestKeyGenerator) GenerateKey(req *optlayer.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("cache key: nil request")
	}

	key := strings.ToUpper(req.Method) + ":" + req.Path

	// url.Values.Encode sorts by parameter name
	if query := req.Query.Encode(); query != "" {
		key += "?" + query
	}

	return key, nil
}

// BodyHashKeyGenerator keys requests by method, path and a hash of the body.
// It suits RPC-style requests whose parameters travel in the body.
type BodyHashKeyGenerator struct{}

// NewBodyHashKeyGenerator creates a new body hash key generator
func NewBodyHashKeyGenerator() *BodyHashKeyGenerator {
	return &BodyHashKeyGenerator{}
}

// GenerateKey generates a cache key based on method, path and body hash
func (g *BodyHashKeyGenerator) GenerateKey(req *optlayer.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("cache key: nil request")
	}

	bodyBytes, err := MarshalBody(req.Body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	hash := sha256.Sum256(bodyBytes)

	return fmt.Sprintf("%s:%s:%s", strings.ToUpper(req.Method), req.Path, hex.EncodeToString(hash[:])), nil
}

// KeyFunc adapts a function to the KeyGenerator interface
type KeyFunc func(req *optlayer.Request) (string, error)

// GenerateKey calls f(req)
func (f KeyFunc) GenerateKey(req *optlayer.Request) (string, error) {
	return f(req)
}

// StaticKey returns a generator that always yields key
func StaticKey(key string) KeyGenerator {
	return KeyFunc(func(*optlayer.Request) (string, error) {
		return key, nil
	})
}

// MarshalBody serializes a body to JSON. Protocol buffer messages are encoded
// with protojson, everything else with encoding/json.
func MarshalBody(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		return v, nil
	case proto.Message:
		return protojson.Marshal(v)
	default:
		return json.Marshal(v)
	}
}
