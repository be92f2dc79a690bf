package parseuri

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestParseVlessReality(t *testing.T) {
	uri := "vless://11111111-2222-3333-4444-555555555555@example.com:443?security=reality&sni=example.com&fp=chrome&pbk=PK&sid=SID&type=tcp&flow=xtls-rprx-vision#E"

	p := New(testLogger())
	d, ok := p.Parse(uri)
	if !ok {
		t.Fatalf("Parse(%q) returned ok=false, want true", uri)
	}

	if d.Protocol != descriptor.VLESS {
		t.Errorf("Protocol = %q, want %q", d.Protocol, descriptor.VLESS)
	}
	if d.Address != "example.com" {
		t.Errorf("Address = %q, want %q", d.Address, "example.com")
	}
	if d.Port != 443 {
		t.Errorf("Port = %d, want 443", d.Port)
	}
	if got := descriptor.Str(d.VlessID, ""); got != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("VlessID = %q, want the uuid", got)
	}
	if got := descriptor.Str(d.Security, ""); got != "reality" {
		t.Errorf("Security = %q, want %q", got, "reality")
	}
	if got := descriptor.Str(d.SNI, ""); got != "example.com" {
		t.Errorf("SNI = %q, want %q", got, "example.com")
	}
	if got := descriptor.Str(d.FP, ""); got != "chrome" {
		t.Errorf("FP = %q, want %q", got, "chrome")
	}
	if got := descriptor.Str(d.PBK, ""); got != "PK" {
		t.Errorf("PBK = %q, want %q", got, "PK")
	}
	if got := descriptor.Str(d.SID, ""); got != "SID" {
		t.Errorf("SID = %q, want %q", got, "SID")
	}
	if got := descriptor.Str(d.Flow, ""); got != "xtls-rprx-vision" {
		t.Errorf("Flow = %q, want %q", got, "xtls-rprx-vision")
	}
	if d.Remark != "E" {
		t.Errorf("Remark = %q, want %q", d.Remark, "E")
	}
}

func TestParseShadowsocksBase64Userinfo(t *testing.T) {
	uri := "ss://Y2hhY2hhMjAtaWV0Zi1wb2x5MTMwNTpwYXNzd29yZA==@example.com:8388#SS"

	p := New(testLogger())
	d, ok := p.Parse(uri)
	if !ok {
		t.Fatalf("Parse(%q) returned ok=false, want true", uri)
	}

	if d.Protocol != descriptor.Shadowsocks {
		t.Errorf("Protocol = %q, want %q", d.Protocol, descriptor.Shadowsocks)
	}
	if got := descriptor.Str(d.Method, ""); got != "chacha20-ietf-poly1305" {
		t.Errorf("Method = %q, want %q", got, "chacha20-ietf-poly1305")
	}
	if got := descriptor.Str(d.Password, ""); got != "password" {
		t.Errorf("Password = %q, want %q", got, "password")
	}
	if d.Address != "example.com" {
		t.Errorf("Address = %q, want %q", d.Address, "example.com")
	}
	if d.Port != 8388 {
		t.Errorf("Port = %d, want 8388", d.Port)
	}
	if d.Remark != "SS" {
		t.Errorf("Remark = %q, want %q", d.Remark, "SS")
	}
}

func TestParseHysteria2WithObfs(t *testing.T) {
	uri := "hy2://pw@h:46914/?insecure=1&sni=www.google.com&obfs=salamander&obfs-password=%26O%2328YB5qK%215t%23U#T"

	p := New(testLogger())
	d, ok := p.Parse(uri)
	if !ok {
		t.Fatalf("Parse(%q) returned ok=false, want true", uri)
	}

	if d.Protocol != descriptor.Hysteria2 {
		t.Errorf("Protocol = %q, want %q", d.Protocol, descriptor.Hysteria2)
	}
	if d.Address != "h" {
		t.Errorf("Address = %q, want %q", d.Address, "h")
	}
	if d.Port != 46914 {
		t.Errorf("Port = %d, want 46914", d.Port)
	}
	if got := descriptor.Str(d.Password, ""); got != "pw" {
		t.Errorf("Password = %q, want %q", got, "pw")
	}
	if got := descriptor.Str(d.SNI, ""); got != "www.google.com" {
		t.Errorf("SNI = %q, want %q", got, "www.google.com")
	}
	if got := descriptor.Str(d.Obfs, ""); got != "salamander" {
		t.Errorf("Obfs = %q, want %q", got, "salamander")
	}
	if got := descriptor.Str(d.ObfsPass, ""); got != "&O#28YB5qK!5t#U" {
		t.Errorf("ObfsPass = %q, want %q", got, "&O#28YB5qK!5t#U")
	}
	if !descriptor.Bool(d.Insecure) {
		t.Errorf("Insecure = false, want true")
	}
	if d.Remark != "T" {
		t.Errorf("Remark = %q, want %q", d.Remark, "T")
	}
}

func TestParseVMessJSON(t *testing.T) {
	uri := "vmess://eyJ2IjoiMiIsInBzIjoiTXlTZXJ2ZXIiLCJhZGQiOiJleGFtcGxlLmNvbSIsInBvcnQiOiI0NDMiLCJpZCI6ImFiYy0xMjMiLCJhaWQiOiIwIiwic2N5IjoiYXV0byIsIm5ldCI6IndzIiwidHlwZSI6Im5vbmUiLCJob3N0IjoiaG9zdC5jb20iLCJwYXRoIjoiL3BhdGgiLCJ0bHMiOiJ0bHMiLCJzbmkiOiJzbmkuY29tIn0="

	p := New(testLogger())
	d, ok := p.Parse(uri)
	if !ok {
		t.Fatalf("Parse(%q) returned ok=false, want true", uri)
	}

	if d.Protocol != descriptor.VMess {
		t.Errorf("Protocol = %q, want %q", d.Protocol, descriptor.VMess)
	}
	if d.Address != "example.com" {
		t.Errorf("Address = %q, want %q", d.Address, "example.com")
	}
	if d.Port != 443 {
		t.Errorf("Port = %d, want 443", d.Port)
	}
	if got := descriptor.Str(d.VmessID, ""); got != "abc-123" {
		t.Errorf("VmessID = %q, want %q", got, "abc-123")
	}
	if d.Remark != "MyServer" {
		t.Errorf("Remark = %q, want %q", d.Remark, "MyServer")
	}
	if got := descriptor.Str(d.Host, ""); got != "host.com" {
		t.Errorf("Host = %q, want %q", got, "host.com")
	}
}

func TestParseRejectsMalformedAndUnknownSchemes(t *testing.T) {
	p := New(testLogger())

	cases := []string{
		"",
		"   ",
		"ssr://anything-at-all",
		"vless://missing-everything",
		"trojan://@host:443",
		"ss://not-valid-base64-@@host:1",
		"hy2://host-without-user:443",
		"vmess://not-base64-at-all!!!",
		"http://example.com",
	}

	for _, line := range cases {
		if d, ok := p.Parse(line); ok {
			t.Errorf("Parse(%q) = %+v, ok=true; want ok=false", line, d)
		}
	}
}

func BenchmarkParseVless(b *testing.B) {
	uri := "vless://11111111-2222-3333-4444-555555555555@example.com:443?security=reality&sni=example.com&fp=chrome&pbk=PK&sid=SID&type=tcp&flow=xtls-rprx-vision#E"
	p := New(testLogger())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Parse(uri)
	}
}
