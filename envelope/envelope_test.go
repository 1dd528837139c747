package envelope

import (
	"testing"
	"time"

	"github.com/charlesrocket/veilid/cryptosuite"
	"github.com/charlesrocket/veilid/types"
)

func genPair(t *testing.T, kind types.CryptoKind) cryptosuite.KeyPair {
	t.Helper()
	sys := cryptosuite.MustLookup(kind)
	kp, err := sys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func TestRoundTrip(t *testing.T) {
	for _, kind := range []types.CryptoKind{cryptosuite.KindVLD0, cryptosuite.KindSECP} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			sender := genPair(t, kind)
			recipient := genPair(t, kind)
			now := time.Now()
			plaintext := []byte("hello from the overlay")

			sealed, err := Encode(kind, sender.Secret, sender.Public.Key, recipient.Public.Key, plaintext, now)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			hdr, got, err := Decode(sealed, recipient.Secret, recipient.Public.Key, SkewBounds{}, now)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if string(got) != string(plaintext) {
				t.Fatalf("got %q, want %q", got, plaintext)
			}
			if hdr.SenderID != sender.Public.Key {
				t.Fatalf("sender id mismatch")
			}
		})
	}
}

func TestDecodeRejectsTamperedHeader(t *testing.T) {
	kind := cryptosuite.KindVLD0
	sender := genPair(t, kind)
	recipient := genPair(t, kind)
	now := time.Now()

	sealed, err := Encode(kind, sender.Secret, sender.Public.Key, recipient.Public.Key, []byte("x"), now)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sealed[0] ^= 0xFF // corrupt magic, still within the AAD region
	if _, _, err := Decode(sealed, recipient.Secret, recipient.Public.Key, SkewBounds{}, now); err != ErrInvalid {
		t.Fatalf("Decode on tampered header = %v, want ErrInvalid", err)
	}
}

func TestDecodeRejectsTamperedBody(t *testing.T) {
	kind := cryptosuite.KindVLD0
	sender := genPair(t, kind)
	recipient := genPair(t, kind)
	now := time.Now()

	sealed, err := Encode(kind, sender.Secret, sender.Public.Key, recipient.Public.Key, []byte("hello"), now)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, _, err := Decode(sealed, recipient.Secret, recipient.Public.Key, SkewBounds{}, now); err != ErrInvalid {
		t.Fatalf("Decode on tampered body = %v, want ErrInvalid", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	short := make([]byte, HeaderSize-1)
	var recipientID types.NodeId
	if _, _, err := Decode(short, [32]byte{}, recipientID, SkewBounds{}, time.Now()); err != ErrInvalid {
		t.Fatalf("Decode on truncated input = %v, want ErrInvalid", err)
	}
}

func TestDecodeRejectsOutOfSkewWindow(t *testing.T) {
	kind := cryptosuite.KindVLD0
	sender := genPair(t, kind)
	recipient := genPair(t, kind)
	past := time.Now().Add(-time.Hour)

	sealed, err := Encode(kind, sender.Secret, sender.Public.Key, recipient.Public.Key, []byte("x"), past)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	bounds := SkewBounds{Past: time.Minute}
	if _, _, err := Decode(sealed, recipient.Secret, recipient.Public.Key, bounds, time.Now()); err != ErrInvalid {
		t.Fatalf("Decode outside skew window = %v, want ErrInvalid", err)
	}

	// A zero bound disables that side of the check.
	if _, _, err := Decode(sealed, recipient.Secret, recipient.Public.Key, SkewBounds{}, time.Now()); err != nil {
		t.Fatalf("Decode with disabled skew check: %v", err)
	}
}

func TestDecodeRejectsUnknownCryptoKind(t *testing.T) {
	kind := cryptosuite.KindVLD0
	sender := genPair(t, kind)
	recipient := genPair(t, kind)
	now := time.Now()

	sealed, err := Encode(kind, sender.Secret, sender.Public.Key, recipient.Public.Key, []byte("x"), now)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	copy(sealed[offsetCryptoKind:offsetTimestamp], "ZZZZ")
	if _, _, err := Decode(sealed, recipient.Secret, recipient.Public.Key, SkewBounds{}, now); err != ErrInvalid {
		t.Fatalf("Decode with unknown crypto kind = %v, want ErrInvalid", err)
	}
}
