package probe

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/hakim/connprobe/internal/models"
)

// describeSession converts a negotiated connection state into the session
// properties recorded in the transcript. Algorithm names and strengths are
// derived from the IANA cipher suite name.
func describeSession(state tls.ConnectionState) models.TLSSessionInfo {
	suite := tls.CipherSuiteName(state.CipherSuite)
	kx, bulk, hash := splitSuite(suite)

	info := models.TLSSessionInfo{
		Protocol:        tls.VersionName(state.Version),
		CipherSuite:     suite,
		CipherAlgorithm: bulk,
		CipherStrength:  cipherBits(bulk),
		HashAlgorithm:   hashName(hash),
		HashStrength:    hashBits(hash),
		IsAuthenticated: state.HandshakeComplete,
		IsEncrypted:     state.HandshakeComplete && state.CipherSuite != 0,
		IsSigned:        state.HandshakeComplete && state.CipherSuite != 0,
	}

	if kx == "" {
		kx = "ECDHE"
	}
	switch {
	case state.CurveID != 0:
		info.KeyExchangeAlgorithm = fmt.Sprintf("%s %s", kx, state.CurveID)
		info.KeyExchangeStrength = curveBits(state.CurveID)
	case len(state.PeerCertificates) > 0:
		info.KeyExchangeAlgorithm = kx
		info.KeyExchangeStrength = publicKeyBits(state.PeerCertificates[0].PublicKey)
	default:
		info.KeyExchangeAlgorithm = kx
	}

	return info
}

// splitSuite splits "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256" into
// ("ECDHE_RSA", "AES_128_GCM", "SHA256"). TLS 1.3 suites have no key
// exchange part.
func splitSuite(name string) (kx, bulk, hash string) {
	rest := strings.TrimPrefix(name, "TLS_")
	if before, after, ok := strings.Cut(rest, "_WITH_"); ok {
		kx, rest = before, after
	}
	if i := strings.LastIndex(rest, "_"); i > 0 && strings.HasPrefix(rest[i+1:], "SHA") {
		return kx, rest[:i], rest[i+1:]
	}
	return kx, rest, ""
}

func cipherBits(bulk string) int {
	switch {
	case strings.HasPrefix(bulk, "AES_128"):
		return 128
	case strings.HasPrefix(bulk, "AES_256"):
		return 256
	case strings.HasPrefix(bulk, "CHACHA20"):
		return 256
	case strings.HasPrefix(bulk, "3DES"):
		return 168
	case strings.HasPrefix(bulk, "RC4_128"):
		return 128
	default:
		return 0
	}
}

func hashName(h string) string {
	switch h {
	case "SHA":
		return "SHA1"
	case "":
		return "none"
	default:
		return h
	}
}

func hashBits(h string) int {
	switch h {
	case "SHA":
		return 160
	case "SHA256":
		return 256
	case "SHA384":
		return 384
	default:
		return 0
	}
}

func curveBits(id tls.CurveID) int {
	switch id {
	case tls.X25519:
		return 255
	case tls.CurveP256:
		return 256
	case tls.CurveP384:
		return 384
	case tls.CurveP521:
		return 521
	case tls.X25519MLKEM768:
		// classical half of the hybrid group
		return 255
	default:
		return 0
	}
}

func publicKeyBits(pub any) int {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}
