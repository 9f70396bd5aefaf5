package ports

import (
	"context"

	"github.com/arkade-os/cat721-send/internal/core/domain"
)

type ToSignInput struct {
	Index              int
	PublicKey          string
	Address            string
	DisableTweakSigner bool
}

type SignOptions struct {
	ToSignInputs  []ToSignInput
	AutoFinalized bool
}

// Signer holds the key material of an address. Psbts are exchanged hex encoded.
type Signer interface {
	GetAddress(ctx context.Context) (string, error)
	GetPublicKey(ctx context.Context) (string, error)
	SignPsbt(ctx context.Context, psbtHex string, opts SignOptions) (string, error)
}

// SignerFactory loads the signer of the given key material whose address has
// the requested encoding.
type SignerFactory func(keyMaterial string, encoding domain.AddressMatch) (Signer, error)
