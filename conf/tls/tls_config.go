package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/squareup/ksession/errors"
)

// CertsConfig is the TLS configuration used to reach the brokers. Leaving every field blank disables TLS.
type CertsConfig struct {
	// nolint: golint
	CACert      string `json:"ca_cert,omitempty" help:"PEM-encoded CA certificate file path."`
	Key         string `json:"key,omitempty" help:"Private PEM-encoded key file path."`
	Cert        string `json:"cert,omitempty" help:"Public PEM-encoded cert file path."`
	caContent   []byte
	keyContent  []byte
	certContent []byte
}

func (c *CertsConfig) Enabled() bool {
	return c.CACert != "" || c.Key != "" || c.Cert != ""
}

// Validate validates the existence of the TLS cert, key and CA if provided. A client certificate needs both the cert
// and the key.
func (c *CertsConfig) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("tls cert and key must be specified together")
	}
	for _, f := range []string{c.Cert, c.Key, c.CACert} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return errors.Errorf("failed to open %q: %s", f, err)
		}
	}
	return nil
}

// Properties maps the configuration onto the librdkafka ssl settings.
func (c *CertsConfig) Properties() map[string]string {
	if !c.Enabled() {
		return nil
	}
	props := map[string]string{"security.protocol": "ssl"}
	if c.CACert != "" {
		props["ssl.ca.location"] = c.CACert
	}
	if c.Cert != "" {
		props["ssl.certificate.location"] = c.Cert
		props["ssl.key.location"] = c.Key
	}
	return props
}

func (c *CertsConfig) load() error {
	var err error
	if c.Cert != "" {
		c.certContent, err = os.ReadFile(c.Cert)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	if c.Key != "" {
		c.keyContent, err = os.ReadFile(c.Key)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	if c.CACert == "" {
		return nil
	}
	c.caContent, err = os.ReadFile(c.CACert)
	return errors.WithStack(err)
}

// BuildClientTLSConfig loads CA certs and public/private key pair given options. It returns nil when TLS is not
// enabled.
func BuildClientTLSConfig(config CertsConfig) (*tls.Config, error) {
	if !config.Enabled() {
		return nil, nil
	}
	err := config.load()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if config.Cert != "" && config.Key != "" {
		certs, err := tls.X509KeyPair(config.certContent, config.keyContent)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse client key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{certs}
	}

	if config.CACert != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(config.caContent); !ok {
			return nil, errors.Errorf("failed to append CA PEM from %s (invalid PEM block?)", config.CACert)
		}
		tlsConfig.RootCAs = certPool
	}
	return tlsConfig, nil
}
