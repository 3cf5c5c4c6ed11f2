package parser

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	pkgerrors "corpvpn/pkg/errors"
)

func compileJSON(t *testing.T, uri string) map[string]any {
	t.Helper()
	out, err := Compile(uri)
	if err != nil {
		t.Fatalf("Compile(%q): %v", uri, err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return got
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return v
}

func TestCompileReality(t *testing.T) {
	got := compileJSON(t, "vless://abc@h.example:443?security=reality&pbk=K&sid=ab")
	want := decode(t, `{
		"tag": "proxy",
		"protocol": "vless",
		"settings": {"vnext": [{"address": "h.example", "port": 443,
			"users": [{"id": "abc", "encryption": "none", "flow": ""}]}]},
		"streamSettings": {
			"network": "tcp",
			"security": "reality",
			"realitySettings": {"publicKey": "K", "shortId": "ab"}
		}
	}`)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected outbound:\n got %v\nwant %v", got, want)
	}
}

func TestCompileStreamBlocks(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		stream string
	}{
		{
			name:   "ws defaults",
			uri:    "vless://u@h?type=ws",
			stream: `{"network":"ws","security":"none","wsSettings":{"path":"/","headers":{"Host":""}}}`,
		},
		{
			name:   "ws with host and path",
			uri:    "vless://u@h?type=ws&path=%2Fws&host=cdn.example",
			stream: `{"network":"ws","security":"none","wsSettings":{"path":"/ws","headers":{"Host":"cdn.example"}}}`,
		},
		{
			name:   "grpc service fallback and multi mode",
			uri:    "vless://u@h?type=grpc&service=svc&mode=MULTI",
			stream: `{"network":"grpc","security":"none","grpcSettings":{"serviceName":"svc","multiMode":true}}`,
		},
		{
			name:   "grpc serviceName wins",
			uri:    "vless://u@h?type=grpc&service=svc&serviceName=main",
			stream: `{"network":"grpc","security":"none","grpcSettings":{"serviceName":"main","multiMode":false}}`,
		},
		{
			name:   "h2 without host",
			uri:    "vless://u@h?type=h2",
			stream: `{"network":"h2","security":"none","httpSettings":{"host":[],"path":"/"}}`,
		},
		{
			name:   "http with host",
			uri:    "vless://u@h?type=http&host=a.example&path=%2Fp",
			stream: `{"network":"http","security":"none","httpSettings":{"host":["a.example"],"path":"/p"}}`,
		},
		{
			name:   "kcp",
			uri:    "vless://u@h?type=kcp&headerType=wechat-video",
			stream: `{"network":"kcp","security":"none","kcpSettings":{"header":{"type":"wechat-video"},"seed":""}}`,
		},
		{
			name:   "quic",
			uri:    "vless://u@h?type=quic&key=k",
			stream: `{"network":"quic","security":"none","quicSettings":{"security":"none","key":"k","header":{"type":"none"}}}`,
		},
		{
			name:   "splithttp",
			uri:    "vless://u@h?type=splithttp",
			stream: `{"network":"splithttp","security":"none","xhttpSettings":{"path":"/","host":"","mode":"auto"}}`,
		},
		{
			name:   "unknown network has no block",
			uri:    "vless://u@h?type=meek",
			stream: `{"network":"meek","security":"none"}`,
		},
		{
			name: "tls rederives stream fields",
			uri:  "vless://u@h?security=tls&sni=s.example&alpn=h2,%20http/1.1,&fp=chrome&allowInsecure=TRUE",
			stream: `{"network":"tcp","security":"tls","serverName":"s.example","alpn":["h2","http/1.1"],"fingerprint":"chrome",
				"tlsSettings":{"serverName":"s.example","alpn":["h2","http/1.1"],"fingerprint":"chrome","allowInsecure":true}}`,
		},
		{
			name:   "tls allowInsecure false is kept",
			uri:    "vless://u@h?security=tls&allowInsecure=0",
			stream: `{"network":"tcp","security":"tls","tlsSettings":{"allowInsecure":false}}`,
		},
		{
			name:   "tls without params",
			uri:    "vless://u@h?security=tls",
			stream: `{"network":"tcp","security":"tls","tlsSettings":{}}`,
		},
		{
			name:   "last value wins",
			uri:    "vless://u@h?type=ws&type=grpc&serviceName=a",
			stream: `{"network":"grpc","security":"none","grpcSettings":{"serviceName":"a","multiMode":false}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compileJSON(t, tt.uri)
			want := decode(t, tt.stream)
			if !reflect.DeepEqual(got["streamSettings"], any(want)) {
				t.Fatalf("streamSettings:\n got %v\nwant %v", got["streamSettings"], want)
			}
		})
	}
}

func TestCompileAuthority(t *testing.T) {
	out, err := Compile("VLESS://us%40er@Host.Example:8443?flow=xtls-rprx-vision&encryption=zero#name")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	host, port := out.Server()
	if host != "host.example" || port != 8443 {
		t.Fatalf("server = %s:%d", host, port)
	}
	user := out.Settings.VNext[0].Users[0]
	if user.ID != "us@er" || user.Flow != "xtls-rprx-vision" || user.Encryption != "zero" {
		t.Fatalf("unexpected user: %+v", user)
	}

	out, err = Compile("vless://u@h")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, port := out.Server(); port != 443 {
		t.Fatalf("default port = %d, want 443", port)
	}
}

func TestCompileInvalid(t *testing.T) {
	tests := []string{
		"vmess://abc@h:443",
		"vless://h:443",
		"vless://u@:443",
		"vless://u@h:99999",
		"vless://u@h:port",
		"not a uri",
	}
	for _, uri := range tests {
		_, err := Compile(uri)
		var verr *pkgerrors.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Compile(%q) error = %v, want ValidationError", uri, err)
		}
		if !errors.Is(err, pkgerrors.ErrURIInvalid) {
			t.Fatalf("Compile(%q) error does not match ErrURIInvalid", uri)
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	uri := "vless://abc@h:443?security=tls&sni=a&alpn=h2&type=ws&path=/x"
	first, _ := json.Marshal(compileJSON(t, uri))
	second, _ := json.Marshal(compileJSON(t, uri))
	if string(first) != string(second) {
		t.Fatalf("outputs differ:\n%s\n%s", first, second)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("vless://u@h:443#My%20Server"); got != "My Server" {
		t.Fatalf("Label = %q", got)
	}
	if got := Label("vless://u@h:443"); got != "h:443" {
		t.Fatalf("Label fallback = %q", got)
	}
}
