package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key; never fund it.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())

	ts := time.Unix(1_750_000_000, 0)
	body := []byte(`{"amount":"100"}`)
	sig, err := s.SignRequest("post", "/api/projects/p1/purchase", ts, "n-1", body)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	got, err := RecoverRequestSigner("POST", "/api/projects/p1/purchase", ts.Unix(), "n-1", body, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	t.Run("tampered body recovers a different address", func(t *testing.T) {
		other, err := RecoverRequestSigner("POST", "/api/projects/p1/purchase", ts.Unix(), "n-1", []byte(`{"amount":"999"}`), sig)
		require.NoError(t, err)
		assert.NotEqual(t, s.Address(), other)
	})

	t.Run("nonce is covered", func(t *testing.T) {
		other, err := RecoverRequestSigner("POST", "/api/projects/p1/purchase", ts.Unix(), "n-2", body, sig)
		require.NoError(t, err)
		assert.NotEqual(t, s.Address(), other)
	})

	t.Run("malformed signature", func(t *testing.T) {
		_, err := RecoverRequestSigner("POST", "/x", ts.Unix(), "", nil, "0xdead")
		assert.ErrorIs(t, err, ErrBadSignature)
	})
}

func TestRequestMessageIsCanonical(t *testing.T) {
	a := RequestMessage("get", "/api/claims/c1", 42, "", nil)
	b := RequestMessage("GET", "/api/claims/c1", 42, "", []byte{})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, RequestMessage("GET", "/api/claims/c2", 42, "", nil))
	assert.NotEqual(t, a, RequestMessage("GET", "/api/claims/c1", 42, "x", nil))
}

func TestRequestID(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)
	body := []byte(`{"amount":"10"}`)

	id := RequestID(s.Address(), "POST", "/api/projects/p1/purchase", 42, "", body)
	assert.Equal(t, id, RequestID(s.Address(), "post", "/api/projects/p1/purchase", 42, "", body))
	assert.NotEqual(t, id, RequestID(s.Address(), "POST", "/api/projects/p1/purchase", 42, "n", body))
	assert.NotEqual(t, id, RequestID(s.Address(), "POST", "/api/projects/p1/purchase", 43, "", body))
}

func TestKeyFileRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	data, err := EncryptKey(s, "correct horse")
	require.NoError(t, err)

	addr, err := KeyFileAddress(data)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(s, "")
	assert.Error(t, err)
}

func TestLoadSignerPrecedence(t *testing.T) {
	s, err := LoadSigner(KeyConfig{RawPrivateKey: testKeyHex, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())

	_, err = LoadSigner(KeyConfig{})
	assert.Error(t, err)
}
