package storage

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestSignedURLDownload(t *testing.T) {
	signer := &fakeSigner{email: "docs@warranty.iam.gserviceaccount.com"}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	res, err := client.SignedURL(context.Background(), "policy-docs", "policies/electric/v1/policy-wording.pdf", DownloadOptions{
		ExpiresIn:    10 * time.Minute,
		Disposition:  `inline; filename="policy-wording.pdf"`,
		ResponseType: "application/pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, httpMethodGet, res.Method)
	assert.True(t, res.ExpiresAt.Equal(now.Add(10*time.Minute)))
	parsed, err := url.Parse(res.URL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.NotEmpty(t, query.Get("X-Goog-Signature"))
	assert.Equal(t, "application/pdf", query.Get("response-content-type"))
	assert.NotEmpty(t, signer.payloads)
}

func TestSignedURLDefaultsAndLimits(t *testing.T) {
	client, err := NewClient(&fakeSigner{email: "docs@warranty.iam.gserviceaccount.com"})
	require.NoError(t, err)

	res, err := client.SignedURL(context.Background(), "bucket", "object.pdf", DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, httpMethodGet, res.Method)

	_, err = client.SignedURL(context.Background(), "bucket", "object.pdf", DownloadOptions{ExpiresIn: time.Hour})
	assert.ErrorIs(t, err, errExpiryTooLong)

	_, err = client.SignedURL(context.Background(), "bucket", "object.pdf", DownloadOptions{Method: "PUT"})
	assert.ErrorIs(t, err, errMethodNotAllowed)

	_, err = client.SignedURL(context.Background(), " ", "object.pdf", DownloadOptions{})
	assert.ErrorIs(t, err, errInvalidBucket)

	_, err = client.SignedURL(context.Background(), "bucket", "", DownloadOptions{})
	assert.ErrorIs(t, err, errInvalidObject)
}

func TestSignedURLPropagatesSignerError(t *testing.T) {
	client, err := NewClient(&fakeSigner{email: "docs@warranty.iam.gserviceaccount.com", err: errors.New("kms down")})
	require.NoError(t, err)

	_, err = client.SignedURL(context.Background(), "bucket", "object.pdf", DownloadOptions{})
	assert.Error(t, err)
}

func TestNewClientRequiresSigner(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, errNoSigner)

	_, err = NewClient(&fakeSigner{})
	assert.ErrorIs(t, err, errNoSigner)
}
