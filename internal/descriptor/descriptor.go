// Package descriptor holds the canonical in-memory representation of one
// proxy candidate, shared by every pipeline stage.
package descriptor

// Supported protocol identifiers.
const (
	VLESS       = "vless"
	VMess       = "vmess"
	Trojan      = "trojan"
	Shadowsocks = "shadowsocks"
	Hysteria2   = "hysteria2"
)

// DefaultCountryCode and DefaultFlag are used whenever a GeoIP lookup
// misses or the address is not an IP literal.
const (
	DefaultCountryCode = "UN"
	DefaultFlag        = "🇺🇳"
)

// ServerDescriptor is the canonical record for one proxy endpoint. Fields
// outside the common envelope are pointers: nil means "unset", as opposed
// to the zero value, which a protocol may legitimately send.
type ServerDescriptor struct {
	Protocol string
	Address  string
	Port     int
	Remark   string
	RawURI   string

	VlessID    *string
	VmessID    *string
	Password   *string
	Method     *string
	Flow       *string
	Encryption *string
	Security   *string
	Type       *string // transport: tcp, ws, grpc, ...
	Host       *string
	Path       *string
	SNI        *string
	FP         *string
	PBK        *string
	SID        *string
	TLS        *string
	AID        *int
	Obfs       *string
	ObfsPass   *string
	Insecure   *bool

	// Filled in by the evaluator during enrichment.
	DelayMS     int
	CountryCode string
	Flag        string
}

// Clone returns a deep-enough copy for enrichment: no descriptor is ever
// mutated in place once it leaves the parser.
func (d *ServerDescriptor) Clone() *ServerDescriptor {
	c := *d
	return &c
}

// Str returns the value of a pointer field, or def if unset.
func Str(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// Bool returns the value of a pointer field, or false if unset.
func Bool(p *bool) bool {
	return p != nil && *p
}

// Int returns the value of a pointer field, or def if unset.
func Int(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// PtrStr returns nil for an empty string, else a pointer to it. Used by
// parsers so that "absent" and "explicitly empty" both collapse to unset,
// matching the query-parameter semantics of every supported scheme.
func PtrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PtrInt returns a pointer to i. Used by parsers and tests to fill an
// explicitly-set int field without a local variable.
func PtrInt(i int) *int {
	return &i
}

// Valid reports whether the descriptor carries the fields its protocol
// requires, per spec: address/port/protocol plus the protocol-specific
// minimum (e.g. VLESS requires vless_id; Shadowsocks requires method and
// password).
func (d *ServerDescriptor) Valid() bool {
	if d.Protocol == "" || d.Address == "" || d.Port < 1 || d.Port > 65535 {
		return false
	}
	switch d.Protocol {
	case VLESS:
		return d.VlessID != nil && *d.VlessID != ""
	case VMess:
		return d.VmessID != nil && *d.VmessID != ""
	case Trojan:
		return d.Password != nil && *d.Password != ""
	case Shadowsocks:
		return d.Method != nil && *d.Method != "" && d.Password != nil && *d.Password != ""
	case Hysteria2:
		return d.Password != nil && *d.Password != ""
	default:
		return false
	}
}
