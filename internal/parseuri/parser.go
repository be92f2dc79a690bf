// Package parseuri decodes subscription lines into descriptor.ServerDescriptor
// values. Dispatch is by URI scheme prefix; every parse failure is reported
// to the caller as (nil, false) rather than an error, since a malformed
// line in a feed must never abort the rest of the feed.
package parseuri

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"proxy-fleet-evaluator/internal/descriptor"
)

// Parser decodes proxy URIs into descriptors.
type Parser struct {
	log *logrus.Logger
}

// New returns a Parser that logs diagnostics for malformed lines at Debug
// level (feed-level statistics are logged by the caller, not here).
func New(log *logrus.Logger) *Parser {
	return &Parser{log: log}
}

// Parse dispatches on scheme prefix. Unknown schemes, including ssr://, are
// silently skipped per spec.
func (p *Parser) Parse(line string) (*descriptor.ServerDescriptor, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	switch {
	case strings.HasPrefix(line, "vless://"):
		return p.parseGenericURL(line, descriptor.VLESS)
	case strings.HasPrefix(line, "trojan://"):
		return p.parseGenericURL(line, descriptor.Trojan)
	case strings.HasPrefix(line, "vmess://"):
		return p.parseVMess(line)
	case strings.HasPrefix(line, "ss://"):
		return p.parseShadowsocks(line)
	case strings.HasPrefix(line, "hy2://"):
		return p.parseHysteria2(line)
	default:
		return nil, false
	}
}

// parseGenericURL handles vless:// and trojan://, which share the
// user@host:port?query#fragment shape.
func (p *Parser) parseGenericURL(line, protocol string) (*descriptor.ServerDescriptor, bool) {
	u, err := url.Parse(line)
	if err != nil || u.User == nil || u.Hostname() == "" || u.Port() == "" {
		p.log.WithFields(logrus.Fields{"protocol": protocol, "uri": line}).Debug("skipping malformed uri")
		return nil, false
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, false
	}

	q := u.Query()
	id := u.User.Username()

	d := &descriptor.ServerDescriptor{
		Protocol: protocol,
		Address:  u.Hostname(),
		Port:     port,
		Remark:   u.Fragment,
		RawURI:   line,
		Security: descriptor.PtrStr(firstOr(q, "security", "")),
		Type:     descriptor.PtrStr(firstOr(q, "type", "")),
		Host:     descriptor.PtrStr(firstOr(q, "host", "")),
		Path:     descriptor.PtrStr(firstOr(q, "path", "")),
		SNI:      descriptor.PtrStr(firstOr(q, "sni", "")),
		Flow:     descriptor.PtrStr(firstOr(q, "flow", "")),
		FP:       descriptor.PtrStr(firstOr(q, "fp", "")),
		PBK:      descriptor.PtrStr(firstOr(q, "pbk", "")),
		SID:      descriptor.PtrStr(firstOr(q, "sid", "")),
	}

	switch protocol {
	case descriptor.VLESS:
		d.VlessID = descriptor.PtrStr(id)
		d.Encryption = descriptor.PtrStr(firstOr(q, "encryption", "none"))
	case descriptor.Trojan:
		d.Password = descriptor.PtrStr(id)
		if d.SNI == nil {
			d.SNI = descriptor.PtrStr(firstOr(q, "peer", ""))
		}
	}

	if !d.Valid() {
		return nil, false
	}
	return d, true
}

// parseVMess strips the scheme, pads to a base64 quantum, decodes
// permissively, truncates at the last '}' to tolerate trailing garbage,
// then reads fields out with gjson so any missing key degrades gracefully
// instead of panicking on a type assertion.
func (p *Parser) parseVMess(line string) (*descriptor.ServerDescriptor, bool) {
	body := strings.TrimPrefix(line, "vmess://")
	if idx := strings.Index(body, "?"); idx != -1 {
		body = body[:idx]
	}
	if rem := len(body) % 4; rem != 0 {
		body += strings.Repeat("=", 4-rem)
	}

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(body)
		if err != nil {
			p.log.WithField("uri", line).Debug("vmess base64 decode failed")
			return nil, false
		}
	}

	if last := strings.LastIndexByte(string(decoded), '}'); last != -1 {
		decoded = decoded[:last+1]
	}
	if !json.Valid(decoded) {
		p.log.WithField("uri", line).Debug("vmess payload is not valid json")
		return nil, false
	}

	root := gjson.ParseBytes(decoded)
	address := root.Get("add").String()
	vmessID := root.Get("id").String()
	if address == "" || vmessID == "" {
		return nil, false
	}

	port := 0
	if portVal := root.Get("port"); portVal.Exists() {
		port = int(portVal.Int())
		if port == 0 {
			port, _ = strconv.Atoi(strings.TrimSpace(portVal.String()))
		}
	}

	aid := int(root.Get("aid").Int())

	d := &descriptor.ServerDescriptor{
		Protocol: descriptor.VMess,
		Address:  address,
		Port:     port,
		Remark:   root.Get("ps").String(),
		RawURI:   line,
		VmessID:  descriptor.PtrStr(vmessID),
		Security: descriptor.PtrStr(root.Get("scy").String()),
		Type:     descriptor.PtrStr(root.Get("net").String()),
		Host:     descriptor.PtrStr(root.Get("host").String()),
		Path:     descriptor.PtrStr(root.Get("path").String()),
		TLS:      descriptor.PtrStr(root.Get("tls").String()),
		SNI:      descriptor.PtrStr(root.Get("sni").String()),
		AID:      &aid,
	}

	if !d.Valid() {
		return nil, false
	}
	return d, true
}

// parseShadowsocks splits on the first '@', base64url-decodes the left half
// as method:password (permissive padding), and splits the right half on the
// last ':' as host:port.
func (p *Parser) parseShadowsocks(line string) (*descriptor.ServerDescriptor, bool) {
	body := strings.TrimPrefix(line, "ss://")

	fragment := ""
	if idx := strings.Index(body, "#"); idx != -1 {
		fragment = body[idx+1:]
		body = body[:idx]
	}

	at := strings.Index(body, "@")
	if at == -1 {
		return nil, false
	}
	userInfo, hostPort := body[:at], body[at+1:]

	userInfo = padBase64(userInfo)
	decoded, err := base64.URLEncoding.DecodeString(userInfo)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(userInfo)
		if err != nil {
			p.log.WithField("uri", line).Debug("shadowsocks userinfo decode failed")
			return nil, false
		}
	}

	methodPass := strings.SplitN(string(decoded), ":", 2)
	if len(methodPass) != 2 {
		return nil, false
	}

	last := strings.LastIndex(hostPort, ":")
	if last == -1 {
		return nil, false
	}
	host := hostPort[:last]
	port, err := strconv.Atoi(hostPort[last+1:])
	if err != nil {
		return nil, false
	}

	remark, _ := url.QueryUnescape(fragment)

	d := &descriptor.ServerDescriptor{
		Protocol: descriptor.Shadowsocks,
		Address:  host,
		Port:     port,
		Remark:   remark,
		RawURI:   line,
		Method:   descriptor.PtrStr(methodPass[0]),
		Password: descriptor.PtrStr(methodPass[1]),
	}
	if !d.Valid() {
		return nil, false
	}
	return d, true
}

// parseHysteria2 parses hy2://user@host:port?query#fragment; user is the
// password/auth token.
func (p *Parser) parseHysteria2(line string) (*descriptor.ServerDescriptor, bool) {
	u, err := url.Parse(line)
	if err != nil || u.User == nil || u.Hostname() == "" || u.Port() == "" {
		p.log.WithField("uri", line).Debug("skipping malformed hysteria2 uri")
		return nil, false
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, false
	}

	q := u.Query()
	insecure := q.Get("insecure") == "1"

	d := &descriptor.ServerDescriptor{
		Protocol: descriptor.Hysteria2,
		Address:  u.Hostname(),
		Port:     port,
		Remark:   u.Fragment,
		RawURI:   line,
		Password: descriptor.PtrStr(u.User.Username()),
		SNI:      descriptor.PtrStr(q.Get("sni")),
		Obfs:     descriptor.PtrStr(q.Get("obfs")),
		ObfsPass: descriptor.PtrStr(q.Get("obfs-password")),
		Insecure: &insecure,
	}
	if !d.Valid() {
		return nil, false
	}
	return d, true
}

func firstOr(q url.Values, key, def string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return def
}

func padBase64(s string) string {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}
