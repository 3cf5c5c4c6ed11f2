package subscription

import (
	"encoding/base64"
	"fmt"
	"strings"

	"corpvpn/internal/config/parser"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

const vlessPrefix = "vless://"

// Decoder turns subscription payloads into nodes.
type Decoder struct {
	// Network is the only transport kept; empty keeps every transport.
	Network string
}

// NewDecoder creates a decoder keeping only tcp nodes.
func NewDecoder() *Decoder {
	return &Decoder{Network: "tcp"}
}

// Decode returns the vless:// lines of a payload. A payload that already
// mentions vless:// is read as plain text, anything else as base64.
func (d *Decoder) Decode(content []byte) ([]string, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, pkgerrors.ErrSubscriptionEmpty
	}

	if !strings.Contains(strings.ToLower(text), vlessPrefix) {
		decoded, err := decodeBase64(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrSubscriptionDecodeFailed, err)
		}
		text = decoded
	}

	var uris []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), vlessPrefix) {
			uris = append(uris, line)
		}
	}
	if len(uris) == 0 {
		return nil, pkgerrors.ErrSubscriptionEmpty
	}
	return uris, nil
}

// Nodes compiles uris into nodes tagged with source. Malformed entries and
// other transports are skipped; duplicates keep their first occurrence.
func (d *Decoder) Nodes(uris []string, source string) (nodes []*models.Node, skipped int) {
	seen := make(map[string]bool, len(uris))
	for _, uri := range uris {
		if seen[uri] {
			continue
		}
		seen[uri] = true

		ob, err := parser.Compile(uri)
		if err != nil {
			skipped++
			continue
		}
		network := ob.StreamSettings.Network
		if d.Network != "" && !strings.EqualFold(network, d.Network) {
			skipped++
			continue
		}

		host, port := ob.Server()
		nodes = append(nodes, &models.Node{
			Name:    parser.Label(uri),
			Address: host,
			Port:    port,
			Network: network,
			URI:     uri,
			Source:  source,
		})
	}
	return nodes, skipped
}

// decodeBase64 tries the standard and URL alphabets, padded or not.
func decodeBase64(s string) (string, error) {
	s = strings.Join(strings.Fields(s), "")
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if decoded, err := enc.DecodeString(s); err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("not base64")
}
