package envelope

import "crypto/rand"

// fillNonce writes n random bytes into the leading n bytes of buf and
// zeroes any remaining trailing bytes the wire format reserves beyond
// what the active AEAD actually consumes.
func fillNonce(buf []byte, n int) error {
	if n > len(buf) {
		return ErrInvalid
	}
	if _, err := rand.Read(buf[:n]); err != nil {
		return err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}
