// File: internal/capability/blocklist.go
package capability

import (
	"net"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
)

// blockHit is a blocklist decision with the rule that produced it.
type blockHit struct {
	rule   string
	reason string
}

// -- File system --

var sensitivePaths = []string{
	"/etc/shadow",
	"/etc/gshadow",
	"/etc/passwd",
	"/etc/sudoers",
	"/etc/sudoers.d",
	"/etc/ssh",
	"/root",
	"/proc",
	"/sys",
	"/dev",
	"/boot",
	"/var/run/docker.sock",
	"/run/docker.sock",
}

// sensitiveSegments are blocked wherever they appear in a path.
var sensitiveSegments = map[string]bool{
	".ssh":   true,
	".gnupg": true,
	".aws":   true,
	".kube":  true,
}

var encodedTraversal = []string{"%2e%2e", "%2e.", ".%2e", "%252e", "..%2f", "..%5c", "%c0%ae"}

// canonicalPath normalizes a file resource the way the sandbox will resolve it.
// The second return is set when the raw or normalized form is blocked outright.
func canonicalPath(raw string) (string, *blockHit) {
	if strings.ContainsRune(raw, 0) {
		return "", &blockHit{rule: "nul_byte", reason: "path contains a NUL byte"}
	}
	lower := strings.ToLower(raw)
	for _, enc := range encodedTraversal {
		if strings.Contains(lower, enc) {
			return "", &blockHit{rule: "encoded_traversal", reason: "path contains an encoded traversal sequence"}
		}
	}

	p := strings.TrimSpace(raw)
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	// Fullwidth and other compatibility forms map to their ASCII equivalents.
	p = norm.NFKC.String(strings.ToValidUTF8(p, "\uFFFD"))
	if strings.ContainsRune(p, 0) {
		return "", &blockHit{rule: "nul_byte", reason: "path contains an encoded NUL byte"}
	}
	p = strings.ReplaceAll(p, "\\", "/")

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", &blockHit{rule: "path_traversal", reason: "path contains a parent directory reference"}
		}
	}

	if strings.HasPrefix(p, "~") {
		if expanded, err := homedir.Expand(p); err == nil {
			p = expanded
		}
	}
	p = path.Clean(p)

	for _, s := range sensitivePaths {
		if p == s || strings.HasPrefix(p, s+"/") {
			return p, &blockHit{rule: "sensitive_path", reason: "access to protected system path " + s}
		}
	}
	for _, seg := range strings.Split(p, "/") {
		if sensitiveSegments[seg] {
			return p, &blockHit{rule: "sensitive_path", reason: "access to credential directory " + seg}
		}
	}
	return p, nil
}

// -- Network --

var adminPorts = map[string]bool{
	"22":    true, // ssh
	"23":    true, // telnet
	"2375":  true, // docker
	"2376":  true, // docker tls
	"3389":  true, // rdp
	"5900":  true, // vnc
	"6443":  true, // kubernetes api
	"10250": true, // kubelet
}

var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// canonicalEndpoint reduces a URL or host[:port] to a lower-case ASCII host and
// port. The returned resource is "host" or "host:port".
func canonicalEndpoint(raw string) (string, *blockHit) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if strings.ContainsRune(s, 0) {
		return "", &blockHit{rule: "nul_byte", reason: "address contains a NUL byte"}
	}

	host, port := s, ""
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", &blockHit{rule: "invalid_address", reason: "address cannot be parsed"}
		}
		host, port = u.Hostname(), u.Port()
	} else if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")

	ip, numeric := parseHostIP(host)
	if ip == nil && numeric {
		return "", &blockHit{rule: "invalid_address", reason: "numeric host is not a valid address"}
	}
	if ip != nil {
		host = ip.String()
	} else {
		ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
		if err != nil {
			return "", &blockHit{rule: "invalid_address", reason: "host name is not valid"}
		}
		host = ascii
	}

	canonical := host
	if port != "" {
		canonical = net.JoinHostPort(host, port)
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return canonical, &blockHit{rule: "loopback", reason: "loopback host"}
	}
	if metadataHosts[host] {
		return canonical, &blockHit{rule: "metadata_endpoint", reason: "cloud metadata endpoint"}
	}
	if ip != nil {
		switch {
		case ip.IsLoopback():
			return canonical, &blockHit{rule: "loopback", reason: "loopback address"}
		case ip.IsUnspecified():
			return canonical, &blockHit{rule: "unspecified_address", reason: "unspecified address"}
		case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
			return canonical, &blockHit{rule: "link_local", reason: "link-local address"}
		}
	}
	if adminPorts[port] {
		return canonical, &blockHit{rule: "admin_port", reason: "administrative port " + port}
	}
	return canonical, nil
}

// numericPart matches one inet_aton component: decimal, octal (leading 0) or hex.
var numericPart = regexp.MustCompile(`^(?:0[xX][0-9a-fA-F]*|[0-9]+)$`)

// parseHostIP accepts standard notation and the inet_aton forms resolvers also
// honour: one to four dot-separated parts, the last filling the remaining bytes
// ("127.1", "0177.0.0.1", "0x7f.0.0.1", "2130706433"). numeric is set when the
// host ends in a numeric part and therefore cannot be a DNS name; the IP is nil
// if such a host does not parse.
func parseHostIP(host string) (ip net.IP, numeric bool) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, true
	}
	parts := strings.Split(host, ".")
	if !numericPart.MatchString(parts[len(parts)-1]) {
		return nil, false
	}
	if len(parts) > 4 {
		return nil, true
	}

	var addr uint32
	last := len(parts) - 1
	for i, p := range parts {
		if !numericPart.MatchString(p) {
			return nil, true
		}
		n, err := strconv.ParseUint(p, 0, 32)
		if err != nil {
			return nil, true
		}
		if i < last {
			if n > 0xff {
				return nil, true
			}
			addr |= uint32(n) << (8 * (3 - i))
			continue
		}
		if bits := 8 * (4 - i); bits < 32 && n >= 1<<bits {
			return nil, true
		}
		addr |= uint32(n)
	}
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)), true
}

// -- Modules --

func checkModule(module string) *blockHit {
	if lvl, ok := core.DangerousModuleLevel(module); ok && lvl == core.LevelCritical {
		return &blockHit{rule: "restricted_module", reason: "module " + module + " exposes process control"}
	}
	return nil
}
