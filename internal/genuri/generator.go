// Package genuri re-encodes a descriptor.ServerDescriptor back into its
// scheme's textual form. It is the inverse of parseuri up to a lossy set:
// fields a scheme's generator does not emit are dropped on regeneration.
package genuri

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"proxy-fleet-evaluator/internal/descriptor"
)

// Generate re-encodes d into its canonical URI. Unknown protocols fall back
// to the descriptor's existing RawURI, matching original_source's
// UriGenerator.generate default branch.
func Generate(d *descriptor.ServerDescriptor) string {
	switch d.Protocol {
	case descriptor.VLESS:
		return generateVless(d)
	case descriptor.Trojan:
		return generateTrojan(d)
	case descriptor.VMess:
		return generateVMess(d)
	case descriptor.Shadowsocks:
		return generateShadowsocks(d)
	case descriptor.Hysteria2:
		return generateHysteria2(d)
	default:
		return d.RawURI
	}
}

func generateVless(d *descriptor.ServerDescriptor) string {
	params := url.Values{}
	setIfPresent(params, "encryption", d.Encryption)
	setIfPresent(params, "security", d.Security)
	setIfPresent(params, "type", d.Type)
	setIfPresent(params, "host", d.Host)
	setIfPresent(params, "path", d.Path)
	setIfPresent(params, "sni", d.SNI)
	setIfPresent(params, "flow", d.Flow)
	setIfPresent(params, "fp", d.FP)
	setIfPresent(params, "pbk", d.PBK)
	setIfPresent(params, "sid", d.SID)

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		descriptor.Str(d.VlessID, ""), d.Address, d.Port, sortedEncode(params), url.QueryEscape(d.Remark))
}

func generateTrojan(d *descriptor.ServerDescriptor) string {
	params := url.Values{}
	setIfPresent(params, "security", d.Security)
	setIfPresent(params, "sni", d.SNI)
	setIfPresent(params, "type", d.Type)
	setIfPresent(params, "flow", d.Flow)
	setIfPresent(params, "path", d.Path)
	setIfPresent(params, "host", d.Host)

	return fmt.Sprintf("trojan://%s@%s:%d?%s#%s",
		descriptor.Str(d.Password, ""), d.Address, d.Port, sortedEncode(params), url.QueryEscape(d.Remark))
}

// vmessJSON carries the stable key order the spec requires on output:
// v,ps,add,port,id,aid,scy,net,type,host,path,tls,sni.
type vmessJSON struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port string `json:"port"`
	ID   string `json:"id"`
	Aid  int    `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni"`
}

func generateVMess(d *descriptor.ServerDescriptor) string {
	v := vmessJSON{
		V:    "2",
		PS:   d.Remark,
		Add:  d.Address,
		Port: strconv.Itoa(d.Port),
		ID:   descriptor.Str(d.VmessID, ""),
		Aid:  descriptor.Int(d.AID, 0),
		Scy:  descriptor.Str(d.Security, "auto"),
		Net:  descriptor.Str(d.Type, "tcp"),
		Type: "none",
		Host: descriptor.Str(d.Host, ""),
		Path: descriptor.Str(d.Path, ""),
		TLS:  descriptor.Str(d.TLS, ""),
		SNI:  descriptor.Str(d.SNI, ""),
	}
	raw, _ := json.Marshal(v)
	return "vmess://" + base64.StdEncoding.EncodeToString(raw)
}

func generateShadowsocks(d *descriptor.ServerDescriptor) string {
	userInfo := fmt.Sprintf("%s:%s", descriptor.Str(d.Method, ""), descriptor.Str(d.Password, ""))
	encoded := strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(userInfo)), "=")
	return fmt.Sprintf("ss://%s@%s:%d#%s", encoded, d.Address, d.Port, url.QueryEscape(d.Remark))
}

func generateHysteria2(d *descriptor.ServerDescriptor) string {
	params := url.Values{}
	setIfPresent(params, "sni", d.SNI)
	setIfPresent(params, "obfs", d.Obfs)
	setIfPresent(params, "obfs-password", d.ObfsPass)
	if descriptor.Bool(d.Insecure) {
		params.Set("insecure", "1")
	}

	return fmt.Sprintf("hy2://%s@%s:%d?%s#%s",
		descriptor.Str(d.Password, ""), d.Address, d.Port, sortedEncode(params), url.QueryEscape(d.Remark))
}

func setIfPresent(params url.Values, key string, val *string) {
	if val != nil && *val != "" {
		params.Set(key, *val)
	}
}

// sortedEncode is url.Values.Encode's behavior made explicit: Go's Encode
// already sorts by key, but we call it out since genuri's output is
// contractually "sorted-query" per spec.md §4.2.
func sortedEncode(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return params.Encode()
}
