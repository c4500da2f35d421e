package passes

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

// Claim is the payload carried by an admission pass. The gate scanner
// decrypts it and cross-checks the ticket's current validity with the
// engine before admitting.
type Claim struct {
	EventID  int64     `json:"event_id"`
	TicketID int64     `json:"ticket_id"`
	Owner    string    `json:"owner"`
	IssuedAt time.Time `json:"issued_at"`
}

// Generator produces encrypted QR admission passes for tickets.
type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// GeneratePass encrypts the claim and renders it as a QR PNG.
func (g *Generator) GeneratePass(claim Claim) ([]byte, error) {
	encrypted, err := g.EncryptClaim(claim)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// EncryptClaim produces the encrypted payload embedded in the QR image.
func (g *Generator) EncryptClaim(claim Claim) (string, error) {
	data, err := json.Marshal(claim)
	if err != nil {
		return "", err
	}
	return encryptAES(data, g.secret)
}

// DecodeClaim decrypts a scanned pass payload back into its claim.
func (g *Generator) DecodeClaim(encrypted string) (Claim, error) {
	data, err := decryptAES(encrypted, g.secret)
	if err != nil {
		return Claim{}, err
	}

	var claim Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return Claim{}, err
	}
	return claim, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("pass payload too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	return data, nil
}
