package tsa_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/tsa"
)

func buildTSACert(t *testing.T, now time.Time) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "test time-stamp authority"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func TestMockTSAAttachAndValidateRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	key, cert := buildTSACert(t, now)
	clock := clockwork.NewFakeClockAt(now)
	mock := tsa.NewMockTSA(key, cert, clock)

	data := []byte("bytes to timestamp")
	token, err := tsa.Attach(mock, crypto.SHA256, data)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	roots := x509.NewCertPool()
	roots.AddCert(cert)

	result, err := tsa.Validate(token, crypto.SHA256, data, roots)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.GenTime.Equal(now))
	assert.True(t, result.TSACert.Equal(cert))
}

func TestValidateWithoutRootsIsInconclusiveButReturnsResult(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	key, cert := buildTSACert(t, now)
	clock := clockwork.NewFakeClockAt(now)
	mock := tsa.NewMockTSA(key, cert, clock)

	data := []byte("bytes to timestamp")
	token, err := tsa.Attach(mock, crypto.SHA256, data)
	require.NoError(t, err)

	result, err := tsa.Validate(token, crypto.SHA256, data, nil)
	require.Error(t, err)
	require.NotNil(t, result, "the token's own digest/signature checked out even though trust is inconclusive")

	var inconclusive *tsa.ErrInconclusive
	require.True(t, errors.As(err, &inconclusive))
	assert.True(t, result.GenTime.Equal(now))
}

func TestValidateRejectsTamperedData(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	key, cert := buildTSACert(t, now)
	clock := clockwork.NewFakeClockAt(now)
	mock := tsa.NewMockTSA(key, cert, clock)

	token, err := tsa.Attach(mock, crypto.SHA256, []byte("original bytes"))
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(cert)

	_, err = tsa.Validate(token, crypto.SHA256, []byte("different bytes"), roots)
	require.Error(t, err)

	var inconclusive *tsa.ErrInconclusive
	assert.False(t, errors.As(err, &inconclusive), "an imprint mismatch is a plain error, not ErrInconclusive")
}

func TestBuildMessageImprintDeterministic(t *testing.T) {
	data := []byte("same bytes every time")
	i1, err := tsa.BuildMessageImprint(crypto.SHA256, data)
	require.NoError(t, err)
	i2, err := tsa.BuildMessageImprint(crypto.SHA256, data)
	require.NoError(t, err)
	assert.Equal(t, i1.HashedMessage, i2.HashedMessage)
}
