package privy

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// ParseAuthorizationKey loads an ECDSA authorization key from any of
// the forms Privy provisioning tooling emits: PKCS8 PEM, SEC1
// "EC PRIVATE KEY" PEM, or a bare base64 DER body in either encoding.
// A leading "wallet-auth:" prefix is stripped.
func ParseAuthorizationKey(raw string) (*ecdsa.PrivateKey, error) {
	material := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "wallet-auth:"))
	if material == "" {
		return nil, fmt.Errorf("authorization key is empty")
	}

	var der []byte
	if strings.Contains(material, "-----BEGIN") {
		block, _ := pem.Decode([]byte(material))
		if block == nil {
			return nil, fmt.Errorf("authorization key has no PEM block")
		}
		der = block.Bytes
	} else {
		// Bare base64 bodies sometimes arrive with the PEM line breaks
		// still embedded.
		compact := strings.Join(strings.Fields(material), "")
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			return nil, fmt.Errorf("authorization key is neither PEM nor base64 DER: %w", err)
		}
		der = decoded
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("authorization key is not an ECDSA key")
		}
		return ecKey, nil
	}

	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorization key as PKCS8 or SEC1: %w", err)
	}
	return key, nil
}
