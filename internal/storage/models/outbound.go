package models

// Outbound is a proxy outbound in xray's JSON shape. A compiled VLESS URI
// always produces exactly one vnext server with one user.
type Outbound struct {
	Tag            string           `json:"tag"`
	Protocol       string           `json:"protocol"`
	Settings       OutboundSettings `json:"settings"`
	StreamSettings StreamSettings   `json:"streamSettings"`
}

// OutboundSettings holds the vnext server list.
type OutboundSettings struct {
	VNext []VNextServer `json:"vnext"`
}

// VNextServer is a single upstream server.
type VNextServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VLESSUser `json:"users"`
}

// VLESSUser identifies the client to the server.
type VLESSUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow"`
}

// StreamSettings represents stream settings (transport + security).
// At most one transport block is set, selected by Network.
type StreamSettings struct {
	Network     string   `json:"network"`
	Security    string   `json:"security"`
	ServerName  string   `json:"serverName,omitempty"`
	ALPN        []string `json:"alpn,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`

	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`

	WSSettings    *WSSettings    `json:"wsSettings,omitempty"`
	GRPCSettings  *GRPCSettings  `json:"grpcSettings,omitempty"`
	HTTPSettings  *HTTPSettings  `json:"httpSettings,omitempty"`
	KCPSettings   *KCPSettings   `json:"kcpSettings,omitempty"`
	QUICSettings  *QUICSettings  `json:"quicSettings,omitempty"`
	XHTTPSettings *XHTTPSettings `json:"xhttpSettings,omitempty"`
}

// RealitySettings carries only the reality keys the URI supplied.
type RealitySettings struct {
	PublicKey string `json:"publicKey,omitempty"`
	ShortID   string `json:"shortId,omitempty"`
	SpiderX   string `json:"spiderX,omitempty"`
}

// TLSSettings represents TLS settings. AllowInsecure is nil unless the URI
// carried the parameter.
type TLSSettings struct {
	ServerName    string   `json:"serverName,omitempty"`
	ALPN          []string `json:"alpn,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	AllowInsecure *bool    `json:"allowInsecure,omitempty"`
}

// WSSettings represents WebSocket settings
type WSSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

// GRPCSettings represents gRPC settings
type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
	MultiMode   bool   `json:"multiMode"`
}

// HTTPSettings represents HTTP/2 settings
type HTTPSettings struct {
	Host []string `json:"host"`
	Path string   `json:"path"`
}

// HeaderSettings is the packet header obfuscation type.
type HeaderSettings struct {
	Type string `json:"type"`
}

// KCPSettings represents mKCP settings
type KCPSettings struct {
	Header HeaderSettings `json:"header"`
	Seed   string         `json:"seed"`
}

// QUICSettings represents QUIC settings
type QUICSettings struct {
	Security string         `json:"security"`
	Key      string         `json:"key"`
	Header   HeaderSettings `json:"header"`
}

// XHTTPSettings represents XHTTP (split HTTP) settings
type XHTTPSettings struct {
	Path string `json:"path"`
	Host string `json:"host"`
	Mode string `json:"mode"`
}

// Server returns the address and port of the first vnext server.
func (o *Outbound) Server() (string, int) {
	if o == nil || len(o.Settings.VNext) == 0 {
		return "", 0
	}
	return o.Settings.VNext[0].Address, o.Settings.VNext[0].Port
}
