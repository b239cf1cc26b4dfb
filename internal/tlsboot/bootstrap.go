// Package tlsboot bootstraps the node's self-signed TLS identity:
// generating an RSA key pair and self-signed certificate on first run,
// persisting them under a data directory, and reloading and validating
// them on every subsequent start. Server and client contexts are both
// pinned to TLS 1.3 only, matching the original implementation's
// SSL_CTX_set_min/max_proto_version(TLS1_3_VERSION) policy.
package tlsboot

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certificateKeyBits     = 2048
	certificateValidityDays = 365
	certificateCommonName  = "peernode.node"

	certFilename = "cert.pem"
	keyFilename  = "key.pem"
)

// Material is the loaded (or freshly generated) identity a node
// presents on both its server and client TLS contexts.
type Material struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
}

// ErrRegenerationDeclined is returned by EnsureMaterial when existing
// material on disk fails to load or validate and autoRegenerate is
// false: the operator must explicitly authorize overwriting it.
var ErrRegenerationDeclined = errors.New("tlsboot: existing certificate invalid and regeneration not authorized")

// EnsureMaterial loads the certificate/key pair from directory. If
// directory has no material yet, it generates and persists a fresh
// self-signed pair unconditionally (nothing existing to lose). If
// material exists but fails to load or validate, it only regenerates
// when autoRegenerate is true; otherwise it returns
// ErrRegenerationDeclined so the caller can abort startup rather than
// silently replace a node's identity. keyPassword encrypts the private
// key at rest when non-empty.
func EnsureMaterial(directory, keyPassword string, autoRegenerate bool) (*Material, error) {
	_, certErr := os.Stat(certPath(directory))
	_, keyErr := os.Stat(keyPath(directory))
	firstRun := errors.Is(certErr, os.ErrNotExist) && errors.Is(keyErr, os.ErrNotExist)

	m, err := loadMaterial(directory, keyPassword)
	if err == nil {
		if verr := validate(m); verr == nil {
			return m, nil
		}
	}

	if !firstRun && !autoRegenerate {
		return nil, ErrRegenerationDeclined
	}
	return generateAndStore(directory, keyPassword)
}

func certPath(directory string) string { return filepath.Join(directory, certFilename) }
func keyPath(directory string) string  { return filepath.Join(directory, keyFilename) }

func loadMaterial(directory, keyPassword string) (*Material, error) {
	certPEM, err := os.ReadFile(certPath(directory))
	if err != nil {
		return nil, fmt.Errorf("tlsboot: reading certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath(directory))
	if err != nil {
		return nil, fmt.Errorf("tlsboot: reading key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("tlsboot: invalid key PEM")
	}
	keyDER := keyBlock.Bytes
	if keyPassword != "" {
		//nolint:staticcheck // PEM encryption is deprecated but matches the
		// original's password-protected PKCS#1 key file on disk.
		decrypted, derr := x509.DecryptPEMBlock(keyBlock, []byte(keyPassword))
		if derr != nil {
			return nil, fmt.Errorf("tlsboot: decrypting key: %w", derr)
		}
		keyDER = decrypted
	}

	cert, err := tls.X509KeyPair(certPEM, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER}))
	if err != nil {
		return nil, fmt.Errorf("tlsboot: parsing key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("tlsboot: parsing leaf certificate: %w", err)
	}
	cert.Leaf = leaf

	return &Material{Certificate: cert, Leaf: leaf}, nil
}

// validate mirrors validate_server_certificate: the certificate must
// still be within its validity window and its public key must match
// the private key it was stored alongside.
func validate(m *Material) error {
	now := time.Now()
	if now.Before(m.Leaf.NotBefore) || now.After(m.Leaf.NotAfter) {
		return errors.New("tlsboot: certificate outside validity window")
	}
	pub, ok := m.Leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("tlsboot: certificate public key is not RSA")
	}
	priv, ok := m.Certificate.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return errors.New("tlsboot: private key is not RSA")
	}
	if pub.N.Cmp(priv.N) != 0 {
		return errors.New("tlsboot: certificate and key do not match")
	}
	return nil
}

func generateAndStore(directory, keyPassword string) (*Material, error) {
	priv, err := rsa.GenerateKey(rand.Reader, certificateKeyBits)
	if err != nil {
		return nil, fmt.Errorf("tlsboot: generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("tlsboot: generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: certificateCommonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(0, 0, certificateValidityDays),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("tlsboot: signing certificate: %w", err)
	}

	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("tlsboot: creating directory: %w", err)
	}
	if err := storeCertificate(directory, certDER); err != nil {
		return nil, err
	}
	if err := storeKey(directory, priv, keyPassword); err != nil {
		return nil, err
	}

	return loadMaterial(directory, keyPassword)
}

func storeCertificate(directory string, certDER []byte) error {
	block := &pem.Block{Type: "CERTIFICATE", Bytes: certDER}
	return os.WriteFile(certPath(directory), pem.EncodeToMemory(block), 0o644)
}

func storeKey(directory string, priv *rsa.PrivateKey, keyPassword string) error {
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	if keyPassword != "" {
		//nolint:staticcheck // see loadMaterial
		encrypted, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(keyPassword), x509.PEMCipherAES256)
		if err != nil {
			return fmt.Errorf("tlsboot: encrypting key: %w", err)
		}
		block = encrypted
	}
	return os.WriteFile(keyPath(directory), pem.EncodeToMemory(block), 0o600)
}

// ServerConfig returns a server-side TLS config pinned to TLS 1.3 only.
func ServerConfig(m *Material) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}
}

// ClientConfig returns a client-side TLS config pinned to TLS 1.3 only.
// InsecureSkipVerify is set because peers present self-signed
// certificates with no shared CA; the original implementation performs
// the same out-of-band trust decision (validate_server_certificate
// checks key/cert consistency, not a CA chain).
func ClientConfig(m *Material) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{m.Certificate},
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, //nolint:gosec // self-signed peer identities, no shared CA
	}
}

// Listen starts a TLS listener on addr using the server config derived
// from m.
func Listen(addr string, m *Material) (net.Listener, error) {
	return tls.Listen("tcp", addr, ServerConfig(m))
}

// Dial connects to addr and performs a TLS 1.3 handshake using the
// client config derived from m.
func Dial(addr string, m *Material) (*tls.Conn, error) {
	return tls.Dial("tcp", addr, ClientConfig(m))
}

// DialContext is Dial with caller-supplied cancellation, used by the
// Hub's dial-out path to bound how long an outbound attempt may block.
func DialContext(ctx context.Context, addr string, m *Material) (*tls.Conn, error) {
	dialer := &tls.Dialer{Config: ClientConfig(m)}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn.(*tls.Conn), nil
}
