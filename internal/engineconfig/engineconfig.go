// Package engineconfig builds the JSON configuration handed to the external
// xray process: one SOCKS5 inbound and one outbound per candidate, joined by
// a strict 1:1 routing rule so no candidate's traffic can cross into
// another's outbound.
package engineconfig

import (
	"proxy-fleet-evaluator/internal/descriptor"
)

// Config is the top-level engine config document.
type Config struct {
	Log      logConfig `json:"log"`
	Inbounds []inbound `json:"inbounds"`
	Outbound []outbound `json:"outbounds"`
	Routing  routing   `json:"routing"`
}

type logConfig struct {
	Loglevel string `json:"loglevel"`
}

type inbound struct {
	Tag      string          `json:"tag"`
	Port     int             `json:"port"`
	Listen   string          `json:"listen"`
	Protocol string          `json:"protocol"`
	Settings inboundSettings `json:"settings"`
}

type inboundSettings struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
	IP   string `json:"ip"`
}

type outbound struct {
	Protocol       string      `json:"protocol"`
	Settings       interface{} `json:"settings"`
	StreamSettings interface{} `json:"streamSettings,omitempty"`
	Tag            string      `json:"tag"`
}

type routing struct {
	Rules []routingRule `json:"rules"`
}

type routingRule struct {
	Type       string   `json:"type"`
	InboundTag []string `json:"inboundTag"`
	OutboundTag string  `json:"outboundTag"`
}

// Build assembles the config for a batch of descriptors starting at
// basePort. Descriptors whose protocol cannot be materialised are skipped
// (never happens in practice since only Valid() descriptors reach here, but
// mirrors the original's defensive "if outbound_config" guard).
func Build(batch []*descriptor.ServerDescriptor, basePort int) Config {
	cfg := Config{
		Log:      logConfig{Loglevel: "warning"},
		Inbounds: make([]inbound, 0, len(batch)),
		Outbound: make([]outbound, 0, len(batch)),
		Routing:  routing{Rules: make([]routingRule, 0, len(batch))},
	}

	for i, d := range batch {
		port := basePort + i
		inTag := tagFor("in", i)
		outTag := tagFor("out", i)

		ob, ok := materialise(d)
		if !ok {
			continue
		}
		ob.Tag = outTag

		cfg.Inbounds = append(cfg.Inbounds, inbound{
			Tag:      inTag,
			Port:     port,
			Listen:   "127.0.0.1",
			Protocol: "socks",
			Settings: inboundSettings{Auth: "noauth", UDP: true, IP: "127.0.0.1"},
		})
		cfg.Outbound = append(cfg.Outbound, ob)
		cfg.Routing.Rules = append(cfg.Routing.Rules, routingRule{
			Type:        "field",
			InboundTag:  []string{inTag},
			OutboundTag: outTag,
		})
	}
	return cfg
}

func tagFor(prefix string, i int) string {
	return prefix + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func materialise(d *descriptor.ServerDescriptor) (outbound, bool) {
	switch d.Protocol {
	case descriptor.VLESS:
		return materialiseVless(d), true
	case descriptor.VMess:
		return materialiseVMess(d), true
	case descriptor.Trojan:
		return materialiseTrojan(d), true
	case descriptor.Shadowsocks:
		return materialiseShadowsocks(d), true
	case descriptor.Hysteria2:
		return materialiseHysteria2(d), true
	default:
		return outbound{}, false
	}
}

func sanitizeSecurity(security string) string {
	if security == "auto" {
		return "none"
	}
	return security
}

func serverName(sni, host, address *string, addr string) string {
	if sni != nil && *sni != "" {
		return *sni
	}
	if host != nil && *host != "" {
		return *host
	}
	return addr
}

func materialiseVless(d *descriptor.ServerDescriptor) outbound {
	network := descriptor.Str(d.Type, "tcp")
	security := sanitizeSecurity(descriptor.Str(d.Security, "none"))

	stream := map[string]interface{}{
		"network":  network,
		"security": security,
	}
	if network == "ws" {
		ws := map[string]interface{}{"path": descriptor.Str(d.Path, "/")}
		if host := descriptor.Str(d.Host, d.Address); host != "" {
			ws["host"] = host
		}
		stream["wsSettings"] = ws
	}
	if security == "tls" || security == "reality" {
		sec := map[string]interface{}{
			"serverName":  serverName(d.SNI, d.Host, nil, d.Address),
			"fingerprint": descriptor.Str(d.FP, "chrome"),
		}
		if security == "reality" {
			sec["publicKey"] = descriptor.Str(d.PBK, "")
			sec["shortId"] = descriptor.Str(d.SID, "")
		}
		stream[security+"Settings"] = sec
	}

	return outbound{
		Protocol: "vless",
		Settings: map[string]interface{}{
			"vnext": []map[string]interface{}{{
				"address": d.Address,
				"port":    d.Port,
				"users": []map[string]interface{}{{
					"id":         descriptor.Str(d.VlessID, ""),
					"encryption": "none",
					"flow":       descriptor.Str(d.Flow, ""),
				}},
			}},
		},
		StreamSettings: stream,
	}
}

func materialiseVMess(d *descriptor.ServerDescriptor) outbound {
	network := descriptor.Str(d.Type, "tcp")
	security := sanitizeSecurity(descriptor.Str(d.TLS, "none"))

	stream := map[string]interface{}{
		"network":  network,
		"security": security,
	}
	if network == "ws" {
		ws := map[string]interface{}{"path": descriptor.Str(d.Path, "/")}
		if host := descriptor.Str(d.Host, d.Address); host != "" {
			ws["host"] = host
		}
		stream["wsSettings"] = ws
	}
	if security == "tls" {
		stream["tlsSettings"] = map[string]interface{}{
			"serverName": serverName(d.SNI, d.Host, nil, d.Address),
		}
	}

	return outbound{
		Protocol: "vmess",
		Settings: map[string]interface{}{
			"vnext": []map[string]interface{}{{
				"address": d.Address,
				"port":    d.Port,
				"users": []map[string]interface{}{{
					"id":       descriptor.Str(d.VmessID, ""),
					"alterId":  descriptor.Int(d.AID, 0),
					"security": descriptor.Str(d.Security, "auto"),
				}},
			}},
		},
		StreamSettings: stream,
	}
}

func materialiseTrojan(d *descriptor.ServerDescriptor) outbound {
	stream := map[string]interface{}{
		"network":  descriptor.Str(d.Type, "tcp"),
		"security": "tls",
		"tlsSettings": map[string]interface{}{
			"serverName": serverName(d.SNI, d.Host, nil, d.Address),
		},
	}
	if descriptor.Str(d.Type, "tcp") == "ws" {
		ws := map[string]interface{}{"path": descriptor.Str(d.Path, "/")}
		if host := descriptor.Str(d.Host, d.Address); host != "" {
			ws["host"] = host
		}
		stream["wsSettings"] = ws
	}

	return outbound{
		Protocol: "trojan",
		Settings: map[string]interface{}{
			"servers": []map[string]interface{}{{
				"address":  d.Address,
				"port":     d.Port,
				"password": descriptor.Str(d.Password, ""),
			}},
		},
		StreamSettings: stream,
	}
}

func materialiseShadowsocks(d *descriptor.ServerDescriptor) outbound {
	return outbound{
		Protocol: "shadowsocks",
		Settings: map[string]interface{}{
			"servers": []map[string]interface{}{{
				"address":  d.Address,
				"port":     d.Port,
				"method":   descriptor.Str(d.Method, ""),
				"password": descriptor.Str(d.Password, ""),
			}},
		},
	}
}

func materialiseHysteria2(d *descriptor.ServerDescriptor) outbound {
	server := map[string]interface{}{
		"address":  d.Address,
		"port":     d.Port,
		"password": descriptor.Str(d.Password, ""),
	}
	if obfs := descriptor.Str(d.Obfs, ""); obfs != "" && obfs != "none" {
		server["obfs"] = map[string]interface{}{
			"type":     obfs,
			"password": descriptor.Str(d.ObfsPass, ""),
		}
	}

	return outbound{
		Protocol: "hysteria2",
		Settings: map[string]interface{}{
			"servers": []map[string]interface{}{server},
		},
		StreamSettings: map[string]interface{}{
			"security": "tls",
			"tlsSettings": map[string]interface{}{
				"serverName":    serverName(d.SNI, d.Host, nil, d.Address),
				"allowInsecure": descriptor.Bool(d.Insecure),
			},
		},
	}
}
