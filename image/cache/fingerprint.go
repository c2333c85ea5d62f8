// Package cache provides the generation result cache: a deterministic
// request fingerprint, pluggable persistence adapters, an optional redis
// look-aside layer, and a manager that degrades on every failure instead of
// surfacing cache errors to the generation flow.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/kidcanvas/imagesvc/types"
)

// normalizedParams 标准化后的请求参数，确保相同输入产生相同哈希。
// 字段顺序即序列化顺序，不可调整。
type normalizedParams struct {
	Theme        string           `json:"theme"`
	Subject      string           `json:"subject"`
	Difficulty   types.Difficulty `json:"difficulty"`
	CustomPrompt string           `json:"customPrompt"`
}

// Fingerprint returns the SHA-256 hex digest of the normalized request.
// Theme, subject, and custom prompt are lowercased and trimmed; difficulty
// participates verbatim. Two requests differing only in case or surrounding
// whitespace of those fields produce the same fingerprint.
func Fingerprint(req types.GenerationRequest) string {
	normalized := normalizedParams{
		Theme:        strings.TrimSpace(strings.ToLower(req.Theme)),
		Subject:      strings.TrimSpace(strings.ToLower(req.Subject)),
		Difficulty:   req.Difficulty,
		CustomPrompt: strings.TrimSpace(strings.ToLower(req.CustomPrompt)),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode on a flat struct of strings cannot fail.
	_ = enc.Encode(normalized)

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])
}
