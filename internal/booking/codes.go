package booking

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet excludes visually confusable characters (0/O, 1/I)
// so codes survive being read over a counter or typed from a photo.
// Exactly 32 characters, which keeps the modulo mapping uniform.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength is the fixed length of a redemption code.
const codeLength = 8

// newRedeemCode draws a uniformly random code from the unambiguous
// alphabet.  Uniqueness is NOT guaranteed here; the order transaction
// re-checks the code against the store and regenerates on collision.
func newRedeemCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("booking: generate redeem code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
