package vstore

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

const uuidSize = 16

// UUID is 16 random bytes identifying a store. Its text form is unpadded
// url-safe base64, used by JSON and the command line alike.
type UUID [uuidSize]byte

var ErrBadUUID = errors.New("malformed uuid")

var uuidText = base64.RawURLEncoding

// GenerateUUID fills a UUID from the operating system's secure random source.
func GenerateUUID() UUID {
	var id UUID
	_, _ = rand.Read(id[:])
	return id
}

// ParseUUID decodes the text form produced by String.
func ParseUUID(text string) (UUID, error) {
	var id UUID
	err := id.UnmarshalText([]byte(text))
	return id, err
}

// PackUUID writes the 16 bytes with no length prefix.
func PackUUID(id *UUID, ar *Archive) {
	PlainBytes(id[:], ar)
}

func (u UUID) IsZero() bool {
	return u == UUID{}
}

func (u UUID) String() string {
	return uuidText.EncodeToString(u[:])
}

// MarshalText has a value receiver so that UUID fields marshal whether or not
// they are addressable; UnmarshalText needs the pointer.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText accepts the empty text as the zero UUID.
func (u *UUID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = UUID{}
		return nil
	}
	if uuidText.DecodedLen(len(text)) != uuidSize {
		return errors.Wrapf(ErrBadUUID, "%q has the wrong length", text)
	}
	var buf UUID
	if _, err := uuidText.Decode(buf[:], text); err != nil {
		return errors.Wrapf(ErrBadUUID, "%q: %v", text, err)
	}
	*u = buf
	return nil
}
