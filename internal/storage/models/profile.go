package models

import "encoding/json"

// Profile is the user's connection profile. A pre-built Outbound object
// takes precedence over VLESSURI.
type Profile struct {
	Outbound json.RawMessage `json:"outbound,omitempty"`
	VLESSURI string          `json:"vless_uri,omitempty"`
}

// OutboundObject returns the pre-built outbound when the profile carries a
// JSON object under "outbound".
func (p *Profile) OutboundObject() (map[string]any, bool) {
	if p == nil || len(p.Outbound) == 0 {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(p.Outbound, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// IsEmpty reports whether the profile names neither an outbound nor a URI.
func (p *Profile) IsEmpty() bool {
	_, ok := p.OutboundObject()
	return !ok && p.VLESSURI == ""
}

// AppState holds the persisted application flags.
type AppState struct {
	AutostartDone bool `json:"autostart_done"`
	TunEnabled    bool `json:"tun_enabled"`
}
