package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/transcript"
)

const certTimeLayout = "2006-01-02 15:04:05 UTC"

// TLSOptions controls the handshake stage.
type TLSOptions struct {
	// RootCAs is the pool used to report chain errors. Nil means the
	// system pool. It never causes the handshake to fail.
	RootCAs *x509.CertPool

	// MinVersion defaults to TLS 1.0 so legacy servers are described
	// rather than rejected.
	MinVersion uint16

	// Now overrides the clock used for validity checks.
	Now func() time.Time
}

// Handshake runs the TLS stage over h as a client for host.
//
// The certificate hook accepts any certificate. Before accepting it records
// the leaf's subject, issuer and validity window and every validation
// defect it detects, so the operator sees problems that are deliberately
// not enforced. The handshake has no timeout beyond ctx. On failure h is
// closed and a HandshakeFailure is returned.
func Handshake(ctx context.Context, rec *transcript.Transcript, h *Handle, host string, opts TLSOptions) (*models.TLSSessionInfo, error) {
	rec.Add("Step 4: SSL/TLS Handshake")

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	minVersion := opts.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS10
	}

	inspector := &certInspector{rec: rec, host: host, roots: opts.RootCAs, now: now}
	cfg := &tls.Config{
		ServerName:            host,
		MinVersion:            minVersion,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: inspector.verify,
	}

	conn := h.wrap(func(inner net.Conn) net.Conn { return tls.Client(inner, cfg) }).(*tls.Conn)

	start := time.Now()
	err := conn.HandshakeContext(ctx)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		rec.Addf("[x] SSL/TLS handshake failed (%dms): %v", elapsed, err)
		_ = h.Close()
		return nil, NewError(HandshakeFailure, err, "SSL/TLS handshake with %s failed", host)
	}

	state := conn.ConnectionState()
	info := describeSession(state)
	info.Certificate = inspector.result()

	rec.Addf("[+] SSL/TLS handshake successful (%dms)", elapsed)
	rec.Addf("   SSL Protocol: %s", info.Protocol)
	rec.Addf("   Cipher Suite: %s", info.CipherSuite)
	rec.Addf("   Cipher Algorithm: %s (%d bits)", info.CipherAlgorithm, info.CipherStrength)
	rec.Addf("   Hash Algorithm: %s (%d bits)", info.HashAlgorithm, info.HashStrength)
	rec.Addf("   Key Exchange Algorithm: %s (%d bits)", info.KeyExchangeAlgorithm, info.KeyExchangeStrength)
	rec.Addf("   Is Authenticated: %t", info.IsAuthenticated)
	rec.Addf("   Is Encrypted: %t", info.IsEncrypted)
	rec.Addf("   Is Signed: %t", info.IsSigned)
	rec.Blank()

	return &info, nil
}

// certInspector is the accept-all, report-only verification hook.
type certInspector struct {
	rec   *transcript.Transcript
	host  string
	roots *x509.CertPool
	now   func() time.Time

	mu    sync.Mutex
	info  *models.CertificateInfo
}

func (i *certInspector) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.rec.Add("   Certificate validation callback triggered")

	if len(rawCerts) == 0 {
		i.info = &models.CertificateInfo{PolicyErrors: []string{"not available: server sent no certificate"}}
		i.rec.Add("      Policy errors: not available: server sent no certificate")
		return nil
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			i.info = &models.CertificateInfo{PolicyErrors: []string{"unparseable: " + err.Error()}}
			i.rec.Addf("      Policy errors: unparseable: %v", err)
			return nil
		}
		certs = append(certs, c)
	}

	leaf := certs[0]
	info := &models.CertificateInfo{
		Subject:      leaf.Subject.String(),
		Issuer:       leaf.Issuer.String(),
		SerialNumber: leaf.SerialNumber.String(),
		DNSNames:     leaf.DNSNames,
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
		PolicyErrors: policyErrors(leaf, certs[1:], i.host, i.roots, i.now()),
	}
	i.info = info

	i.rec.Addf("      Subject: %s", info.Subject)
	i.rec.Addf("      Issuer: %s", info.Issuer)
	i.rec.Addf("      Valid from: %s", info.NotBefore.UTC().Format(certTimeLayout))
	i.rec.Addf("      Valid to: %s", info.NotAfter.UTC().Format(certTimeLayout))
	if len(info.PolicyErrors) == 0 {
		i.rec.Add("      Policy errors: none")
	} else {
		i.rec.Addf("      Policy errors: %s", strings.Join(info.PolicyErrors, "; "))
	}

	return nil
}

func (i *certInspector) result() *models.CertificateInfo {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.info
}

// policyErrors lists the validity, hostname and chain problems of leaf.
// Chain building is checked at a time inside the leaf's validity window so
// an expired certificate still reports its chain status separately.
func policyErrors(leaf *x509.Certificate, intermediates []*x509.Certificate, host string, roots *x509.CertPool, now time.Time) []string {
	var errs []string

	chainTime := now
	switch {
	case now.Before(leaf.NotBefore):
		errs = append(errs, fmt.Sprintf("validity: not valid before %s", leaf.NotBefore.UTC().Format(certTimeLayout)))
		chainTime = leaf.NotBefore.Add(leaf.NotAfter.Sub(leaf.NotBefore) / 2)
	case now.After(leaf.NotAfter):
		errs = append(errs, fmt.Sprintf("validity: expired on %s", leaf.NotAfter.UTC().Format(certTimeLayout)))
		chainTime = leaf.NotBefore.Add(leaf.NotAfter.Sub(leaf.NotBefore) / 2)
	}

	if err := leaf.VerifyHostname(host); err != nil {
		errs = append(errs, "name mismatch: "+err.Error())
	}

	pool := x509.NewCertPool()
	for _, c := range intermediates {
		pool.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: pool,
		CurrentTime:   chainTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		errs = append(errs, "chain: "+err.Error())
	}

	return errs
}
