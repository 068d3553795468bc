package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"dyad-reasoner/pkg/types"
)

// Key identifies one cached reasoning response.
type Key struct {
	Dyad          types.Dyad
	PromptVersion string
	Hash          string
}

// String renders reason:<dyad>:<prompt_version>:<hash>.
func (k Key) String() string {
	return fmt.Sprintf("reason:%s:%s:%s", k.Dyad, k.PromptVersion, k.Hash)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "reason" {
		return Key{}, false
	}
	return Key{Dyad: types.Dyad(parts[1]), PromptVersion: parts[2], Hash: parts[3]}, true
}

// fingerprintInput is the canonical hashed shape. encoding/json writes map
// keys in sorted order, which makes the encoding deterministic.
type fingerprintInput struct {
	Dyad     types.Dyad     `json:"dyad"`
	Features types.Features `json:"features"`
	Context  types.Context  `json:"context"`
	Metrics  types.Metrics  `json:"metrics"`
}

// Fingerprint hashes dyad, features, context and metrics of req. History and
// the explicit model are not part of the key. Nil and empty maps hash alike.
func Fingerprint(req *types.ReasoningRequest, promptVersion string) (Key, error) {
	if req == nil {
		return Key{}, fmt.Errorf("fingerprint: request is nil")
	}

	in := fingerprintInput{
		Dyad:     req.Dyad,
		Features: req.Features,
		Context:  req.Context,
		Metrics:  req.Metrics,
	}
	if in.Features == nil {
		in.Features = types.Features{}
	}
	if in.Context == nil {
		in.Context = types.Context{}
	}
	if in.Metrics == nil {
		in.Metrics = types.Metrics{}
	}

	b, err := json.Marshal(in)
	if err != nil {
		return Key{}, fmt.Errorf("fingerprint: marshal: %w", err)
	}

	sum := sha256.Sum256(b)
	if promptVersion == "" {
		promptVersion = "v0"
	}
	return Key{
		Dyad:          req.Dyad,
		PromptVersion: promptVersion,
		Hash:          hex.EncodeToString(sum[:]),
	}, nil
}
