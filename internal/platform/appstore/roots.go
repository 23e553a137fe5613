package appstore

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// LoadRoots reads trust anchors from path. The file may hold a single DER
// certificate, as downloaded from apple.com/certificateauthority, or one or
// more PEM blocks.
func LoadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("appstore: read root certificate: %w", err)
	}
	return ParseRoots(data)
}

func ParseRoots(data []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if block, _ := pem.Decode(data); block != nil {
		if !pool.AppendCertsFromPEM(data) {
			return nil, errors.New("appstore: no usable certificate in PEM data")
		}
		return pool, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("appstore: parse root certificate: %w", err)
	}
	pool.AddCert(cert)
	return pool, nil
}
