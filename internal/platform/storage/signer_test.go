package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serviceAccountJSON(t *testing.T, email string, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": email,
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	require.NoError(t, err)
	return data
}

func TestKeySignerSignsWithServiceAccountKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := NewKeySignerFromJSON(serviceAccountJSON(t, "docs@warranty.iam.gserviceaccount.com", key))
	require.NoError(t, err)
	assert.Equal(t, "docs@warranty.iam.gserviceaccount.com", signer.Email())

	payload := []byte("GOOG4-RSA-SHA256\n20260101T120000Z")
	sig, err := signer.SignBytes(context.Background(), payload)
	require.NoError(t, err)

	digest := sha256.Sum256(payload)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestKeySignerAcceptsPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]string{
		"client_email": "docs@warranty.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
	})
	require.NoError(t, err)

	_, err = NewKeySignerFromJSON(data)
	assert.NoError(t, err)
}

func TestKeySignerRejectsInvalidKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":    nil,
		"not json": []byte("{"),
		"no email": serviceAccountJSON(t, " ", key),
		"no key":   []byte(`{"client_email":"docs@warranty.iam.gserviceaccount.com"}`),
		"not pem":  []byte(`{"client_email":"docs@warranty.iam.gserviceaccount.com","private_key":"abc"}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewKeySignerFromJSON(data)
			assert.ErrorIs(t, err, ErrInvalidSignerKey)
		})
	}
}

func TestKeySignerSignedURL(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := NewKeySignerFromJSON(serviceAccountJSON(t, "docs@warranty.iam.gserviceaccount.com", key))
	require.NoError(t, err)

	client, err := NewClient(signer)
	require.NoError(t, err)
	res, err := client.SignedURL(context.Background(), "policy-docs", "policies/car/v1/policy-wording.pdf", DownloadOptions{})
	require.NoError(t, err)

	parsed, err := url.Parse(res.URL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.True(t, strings.HasPrefix(query.Get("X-Goog-Credential"), "docs@warranty.iam.gserviceaccount.com/"))
	assert.NotEmpty(t, query.Get("X-Goog-Signature"))
}
