package parser

import (
	"net/url"
	"strconv"
	"strings"

	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

const (
	defaultPort    = 443
	outboundTag    = "proxy"
	defaultNetwork = "tcp"
)

// VLESSCompiler implements Compiler for vless:// URIs
type VLESSCompiler struct{}

func (c *VLESSCompiler) Scheme() string {
	return "vless"
}

// Compile builds the outbound for a URI of the form
// vless://id@host:port?params#name.
func (c *VLESSCompiler) Compile(uri string) (*models.Outbound, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return nil, &pkgerrors.ValidationError{Reason: err.Error()}
	}

	if u.Scheme != "vless" {
		return nil, &pkgerrors.ValidationError{Field: "scheme", Reason: "only vless:// is supported"}
	}

	var id string
	if u.User != nil {
		id = u.User.Username()
	}
	host := strings.ToLower(u.Hostname())
	if id == "" || host == "" {
		return nil, &pkgerrors.ValidationError{Field: "authority", Reason: "user id and host are required"}
	}

	port, err := parsePort(u.Port())
	if err != nil {
		return nil, err
	}

	q := lastValues(u.RawQuery)

	out := &models.Outbound{
		Tag:      outboundTag,
		Protocol: "vless",
		Settings: models.OutboundSettings{
			VNext: []models.VNextServer{{
				Address: host,
				Port:    port,
				Users: []models.VLESSUser{{
					ID:         id,
					Encryption: q.get("encryption", "none"),
					Flow:       q.get("flow", ""),
				}},
			}},
		},
		StreamSettings: models.StreamSettings{
			Network:  q.get("type", defaultNetwork),
			Security: q.get("security", "none"),
		},
	}

	stream := &out.StreamSettings
	stream.ServerName = q.get("sni", "")
	stream.Fingerprint = q.get("fp", "")
	if alpn, ok := q.lookup("alpn"); ok {
		stream.ALPN = splitList(alpn)
	}

	if build, ok := securityBlocks[stream.Security]; ok {
		build(q, stream)
	}
	if build, ok := networkBlocks[stream.Network]; ok {
		build(q, stream)
	}

	return out, nil
}

// securityBlocks adds the per-security settings block.
var securityBlocks = map[string]func(params, *models.StreamSettings){
	"reality": func(q params, s *models.StreamSettings) {
		s.RealitySettings = &models.RealitySettings{
			PublicKey: q.get("pbk", ""),
			ShortID:   q.get("sid", ""),
			SpiderX:   q.get("spx", ""),
		}
	},
	"tls": func(q params, s *models.StreamSettings) {
		tls := &models.TLSSettings{
			ServerName:  q.get("sni", ""),
			Fingerprint: q.get("fp", ""),
		}
		if alpn, ok := q.lookup("alpn"); ok {
			tls.ALPN = splitList(alpn)
		}
		if v, ok := q.lookup("allowInsecure"); ok {
			insecure := strings.EqualFold(v, "true")
			tls.AllowInsecure = &insecure
		}
		s.TLSSettings = tls
	},
}

// networkBlocks adds the per-transport settings block.
var networkBlocks = map[string]func(params, *models.StreamSettings){
	"ws": func(q params, s *models.StreamSettings) {
		s.WSSettings = &models.WSSettings{
			Path:    q.get("path", "/"),
			Headers: map[string]string{"Host": q.get("host", "")},
		}
	},
	"grpc": func(q params, s *models.StreamSettings) {
		s.GRPCSettings = &models.GRPCSettings{
			ServiceName: q.get("serviceName", q.get("service", "")),
			MultiMode:   strings.EqualFold(q.get("mode", ""), "multi"),
		}
	},
	"http":      httpBlock,
	"h2":        httpBlock,
	"xhttp":     xhttpBlock,
	"splithttp": xhttpBlock,
	"kcp": func(q params, s *models.StreamSettings) {
		s.KCPSettings = &models.KCPSettings{
			Header: models.HeaderSettings{Type: q.get("headerType", "none")},
			Seed:   q.get("seed", ""),
		}
	},
	"quic": func(q params, s *models.StreamSettings) {
		s.QUICSettings = &models.QUICSettings{
			Security: q.get("quicSecurity", "none"),
			Key:      q.get("key", ""),
			Header:   models.HeaderSettings{Type: q.get("headerType", "none")},
		}
	},
}

func httpBlock(q params, s *models.StreamSettings) {
	hosts := []string{}
	if h, ok := q.lookup("host"); ok {
		hosts = append(hosts, h)
	}
	s.HTTPSettings = &models.HTTPSettings{
		Host: hosts,
		Path: q.get("path", "/"),
	}
}

func xhttpBlock(q params, s *models.StreamSettings) {
	s.XHTTPSettings = &models.XHTTPSettings{
		Path: q.get("path", "/"),
		Host: q.get("host", ""),
		Mode: q.get("mode", "auto"),
	}
}

// params holds the query with the last non-empty value of each key.
type params map[string]string

func lastValues(rawQuery string) params {
	// Malformed pairs are dropped; the rest still apply.
	values, _ := url.ParseQuery(rawQuery)
	q := make(params, len(values))
	for k, vs := range values {
		for i := len(vs) - 1; i >= 0; i-- {
			if vs[i] != "" {
				q[k] = vs[i]
				break
			}
		}
	}
	return q
}

func (q params) lookup(key string) (string, bool) {
	v, ok := q[key]
	return v, ok
}

func (q params) get(key, def string) string {
	if v, ok := q[key]; ok {
		return v
	}
	return def
}

func parsePort(s string) (int, error) {
	if s == "" {
		return defaultPort, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > 65535 {
		return 0, &pkgerrors.ValidationError{Field: "port", Reason: "out of range: " + s}
	}
	if port == 0 {
		return defaultPort, nil
	}
	return port, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
