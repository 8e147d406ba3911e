package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers. A caller proves control of the address
// in HeaderAddress by signing the canonical request message.
const (
	HeaderAddress   = "X-Bond-Address"
	HeaderTimestamp = "X-Bond-Timestamp"
	HeaderSignature = "X-Bond-Signature"
	// HeaderNonce is an optional caller-chosen value covered by the
	// signature. Two otherwise identical requests in the same second need
	// distinct nonces.
	HeaderNonce = "X-Bond-Nonce"
)

// MaxNonceLen bounds the nonce header.
const MaxNonceLen = 128

const messageDomain = "bondvault-request"

var (
	// ErrBadSignature is returned when a signature is malformed or does not
	// recover to the claimed address.
	ErrBadSignature = errors.New("crypto: bad signature")
)

// Signer signs API requests with a secp256k1 key using EIP-191 personal
// messages, so any Ethereum wallet can produce the same signature.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer over a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the account address of the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex without the 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// SignRequest signs the canonical message for a request and returns the
// 65-byte signature as 0x-prefixed hex with v in {27, 28}.
func (s *Signer) SignRequest(method, path string, ts time.Time, nonce string, body []byte) (string, error) {
	digest := textHash(RequestMessage(method, path, ts.Unix(), nonce, body))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// textHash is the EIP-191 personal_sign digest of msg.
func textHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// RequestMessage builds the message a request signature covers: the method,
// the path including any query string, the unix timestamp, the nonce, and
// the SHA-256 of the body, one per line.
func RequestMessage(method, path string, unixTS int64, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	var b strings.Builder
	b.WriteString(messageDomain)
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(unixTS, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(sum[:]))
	return []byte(b.String())
}

// RecoverRequestSigner returns the address that produced sigHex over the
// canonical request message.
func RecoverRequestSigner(method, path string, unixTS int64, nonce string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d hex bytes", ErrBadSignature, ethcrypto.SignatureLength)
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(textHash(RequestMessage(method, path, unixTS, nonce, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RequestID identifies a signed request independently of the signature
// encoding: the signer plus the SHA-256 of the signed message. A replayed
// request, or a re-encoded copy of its signature, has the same id.
func RequestID(signer common.Address, method, path string, unixTS int64, nonce string, body []byte) string {
	sum := sha256.Sum256(RequestMessage(method, path, unixTS, nonce, body))
	return strings.ToLower(signer.Hex()) + ":" + hex.EncodeToString(sum[:])
}
