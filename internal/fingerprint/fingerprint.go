// Package fingerprint computes a stable 64-bit identity hash for a
// descriptor.ServerDescriptor, used to deduplicate candidates pulled from
// multiple, overlapping subscription feeds.
package fingerprint

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"proxy-fleet-evaluator/internal/descriptor"
)

// Of returns the fingerprint for d. The hashed tuple is protocol-specific:
// only the fields that determine whether two descriptors refer to the same
// logical endpoint are included, so that cosmetic differences (remark,
// raw query-param ordering) never split one server into two cache entries.
func Of(d *descriptor.ServerDescriptor) uint64 {
	parts := []string{d.Protocol, d.Address, strconv.Itoa(d.Port)}

	switch d.Protocol {
	case descriptor.VLESS:
		parts = append(parts,
			descriptor.Str(d.VlessID, ""), descriptor.Str(d.Flow, ""),
			descriptor.Str(d.Type, ""), descriptor.Str(d.Security, ""),
			descriptor.Str(d.Path, ""))
	case descriptor.VMess:
		parts = append(parts,
			descriptor.Str(d.VmessID, ""), descriptor.Str(d.Type, ""),
			descriptor.Str(d.Security, ""), descriptor.Str(d.Path, ""),
			descriptor.Str(d.TLS, ""), strconv.Itoa(descriptor.Int(d.AID, 0)))
	case descriptor.Trojan:
		parts = append(parts, descriptor.Str(d.Password, ""))
	case descriptor.Shadowsocks:
		parts = append(parts, descriptor.Str(d.Method, ""), descriptor.Str(d.Password, ""))
	case descriptor.Hysteria2:
		parts = append(parts, descriptor.Str(d.Password, ""), descriptor.Str(d.Obfs, ""))
	}

	h := xxhash.New()
	_, _ = h.WriteString(strings.Join(parts, "\x00"))
	return h.Sum64()
}

// Dedup drops every descriptor whose fingerprint has already been seen,
// keeping the first occurrence (feed order determines which survives).
func Dedup(in []*descriptor.ServerDescriptor) []*descriptor.ServerDescriptor {
	seen := make(map[uint64]struct{}, len(in))
	out := make([]*descriptor.ServerDescriptor, 0, len(in))
	for _, d := range in {
		fp := Of(d)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, d)
	}
	return out
}
