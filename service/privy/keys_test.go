package privy

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A SEC1 P-256 key as provisioning tooling hands it out: base64 DER
// without PEM armor.
const testSEC1KeyBase64 = "MHcCAQEEIH6phbwVBTxg+QYJMSqHXcLoiTpmO163WjA8Td/+DqQ3oAoGCCqGSM49AwEHoUQDQgAEoY29/uiiWfItIYBAmejKuM17a0GackAbFG4sNs1ObTUilKQ2V/7WkTRC0xk7IgLwCRUI1e/Yk5wQFCjlajvilw=="

func generateP256(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestParseAuthorizationKey_PKCS8PEM(t *testing.T) {
	want := generateP256(t)
	der, err := x509.MarshalPKCS8PrivateKey(want)
	require.NoError(t, err)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	got, err := ParseAuthorizationKey(pemStr)
	require.NoError(t, err)
	assert.Equal(t, 0, want.D.Cmp(got.D))
}

func TestParseAuthorizationKey_SEC1PEM(t *testing.T) {
	want := generateP256(t)
	der, err := x509.MarshalECPrivateKey(want)
	require.NoError(t, err)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	got, err := ParseAuthorizationKey(pemStr)
	require.NoError(t, err)
	assert.Equal(t, 0, want.D.Cmp(got.D))
}

func TestParseAuthorizationKey_BareBase64(t *testing.T) {
	t.Run("sec1 der", func(t *testing.T) {
		got, err := ParseAuthorizationKey(testSEC1KeyBase64)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("pkcs8 der", func(t *testing.T) {
		want := generateP256(t)
		der, err := x509.MarshalPKCS8PrivateKey(want)
		require.NoError(t, err)

		got, err := ParseAuthorizationKey(base64.StdEncoding.EncodeToString(der))
		require.NoError(t, err)
		assert.Equal(t, 0, want.D.Cmp(got.D))
	})
}

func TestParseAuthorizationKey_WalletAuthPrefix(t *testing.T) {
	got, err := ParseAuthorizationKey("wallet-auth:" + testSEC1KeyBase64)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestParseAuthorizationKey_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := ParseAuthorizationKey("")
		require.Error(t, err)

		_, err = ParseAuthorizationKey("wallet-auth:")
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseAuthorizationKey("!!not base64!!")
		require.Error(t, err)
	})

	t.Run("valid base64, not a key", func(t *testing.T) {
		_, err := ParseAuthorizationKey(base64.StdEncoding.EncodeToString([]byte("hello")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PKCS8 or SEC1")
	})

	t.Run("not an ecdsa key", func(t *testing.T) {
		_, edKey, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(edKey)
		require.NoError(t, err)

		_, err = ParseAuthorizationKey(base64.StdEncoding.EncodeToString(der))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an ECDSA key")
	})
}
