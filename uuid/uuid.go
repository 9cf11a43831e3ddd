// Package uuid wraps github.com/google/uuid behind a comparable value
// type so identifiers can be used as map keys and compared with ==.
package uuid

import "github.com/google/uuid"

// UUID is a 16 byte (128 bit) identifier.
type UUID uuid.UUID

// Nil is the zero UUID, treated everywhere as "not set".
var Nil = UUID(uuid.Nil)

// New returns a random UUID sourced from crypto/rand. Alert and
// assignment identifiers as well as acknowledgement tokens all use it.
func New() UUID {
	return UUID(uuid.New())
}

// Must returns u or panics if err is not nil.
func Must(u UUID, err error) UUID {
	if err != nil {
		panic(err)
	}
	return u
}

// Parse decodes the canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"
// form as well as the urn:uuid: prefixed variant.
func Parse(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	return UUID(u), err
}

// ParseBytes is Parse for a raw byte slice.
func ParseBytes(b []byte) (UUID, error) {
	u, err := uuid.ParseBytes(b)
	return UUID(u), err
}

// String renders the canonical dashed hex form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

func (u UUID) MarshalText() ([]byte, error) {
	return uuid.UUID(u).MarshalText()
}

func (u *UUID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(u).UnmarshalText(data)
}
