package signer

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
)

type AddressType string

const (
	AddressTaproot           AddressType = "p2tr"
	AddressWitnessPubKeyHash AddressType = "p2wpkh"
)

var SupportedAddressTypes = []AddressType{AddressTaproot, AddressWitnessPubKeyHash}

func (t AddressType) IsSupported() bool {
	return slices.Contains(SupportedAddressTypes, t)
}

type keySigner struct {
	key      *btcec.PrivateKey
	network  *chaincfg.Params
	addrType AddressType
	address  string
	script   []byte
}

// NewWifSigner returns a signer for the given WIF private key. The address
// type selects the address the key controls.
func NewWifSigner(
	wif string, network *chaincfg.Params, addrType AddressType,
) (ports.Signer, error) {
	key, err := DecodeWif(wif)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, network, addrType)
}

func NewSigner(
	key *btcec.PrivateKey, network *chaincfg.Params, addrType AddressType,
) (ports.Signer, error) {
	addr, err := Address(key.PubKey(), network, addrType)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	return &keySigner{key, network, addrType, addr.EncodeAddress(), script}, nil
}

// NewFactory returns a factory of WIF signers bound to the given network.
func NewFactory(network *chaincfg.Params) ports.SignerFactory {
	return func(wif string, encoding domain.AddressMatch) (ports.Signer, error) {
		switch encoding {
		case domain.MatchedTaproot:
			return NewWifSigner(wif, network, AddressTaproot)
		case domain.MatchedWitnessPubKeyHash:
			return NewWifSigner(wif, network, AddressWitnessPubKeyHash)
		default:
			return nil, fmt.Errorf("unsupported address encoding %s", encoding)
		}
	}
}

func DecodeWif(wif string) (*btcec.PrivateKey, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("invalid wif: %w", err)
	}
	return decoded.PrivKey, nil
}

// Address returns the address of the given type controlled by the public key.
// Taproot addresses commit to the BIP86 tweaked key.
func Address(
	pubkey *btcec.PublicKey, network *chaincfg.Params, addrType AddressType,
) (btcutil.Address, error) {
	switch addrType {
	case AddressTaproot:
		outputKey := txscript.ComputeTaprootKeyNoScript(pubkey)
		return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), network)
	case AddressWitnessPubKeyHash:
		return btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(pubkey.SerializeCompressed()), network,
		)
	default:
		return nil, fmt.Errorf("unsupported address type %s", addrType)
	}
}

func (s *keySigner) GetAddress(_ context.Context) (string, error) {
	return s.address, nil
}

func (s *keySigner) GetPublicKey(_ context.Context) (string, error) {
	return fmt.Sprintf("%x", s.key.PubKey().SerializeCompressed()), nil
}

// SignPsbt signs the requested inputs. With no input requested, it signs every
// input locked by the signer's address.
func (s *keySigner) SignPsbt(
	_ context.Context, psbtHex string, opts ports.SignOptions,
) (string, error) {
	ptx, err := txutils.PsbtFromHex(psbtHex)
	if err != nil {
		return "", err
	}

	toSign := opts.ToSignInputs
	if len(toSign) == 0 {
		toSign = s.ownedInputs(ptx)
	}

	tweaked := make([]int, 0, len(toSign))
	untweaked := make([]int, 0, len(toSign))
	for _, in := range toSign {
		if err := s.checkInput(ptx, in); err != nil {
			return "", err
		}
		if in.DisableTweakSigner {
			untweaked = append(untweaked, in.Index)
		} else {
			tweaked = append(tweaked, in.Index)
		}
	}

	if err := txutils.SignInputs(ptx, tweaked, s.key, false); err != nil {
		return "", err
	}
	if err := txutils.SignInputs(ptx, untweaked, s.key, true); err != nil {
		return "", err
	}

	if opts.AutoFinalized {
		for _, in := range toSign {
			if txutils.IsCovenantInput(ptx, in.Index) {
				continue
			}
			if err := psbt.Finalize(ptx, in.Index); err != nil {
				return "", fmt.Errorf("failed to finalize input %d: %w", in.Index, err)
			}
		}
	}

	log.Debugf("signed %d inputs with %s key", len(toSign), s.addrType)
	return txutils.PsbtToHex(ptx)
}

func (s *keySigner) ownedInputs(ptx *psbt.Packet) []ports.ToSignInput {
	inputs := make([]ports.ToSignInput, 0, len(ptx.Inputs))
	for i, in := range ptx.Inputs {
		if in.WitnessUtxo == nil || !bytes.Equal(in.WitnessUtxo.PkScript, s.script) {
			continue
		}
		inputs = append(inputs, ports.ToSignInput{Index: i, Address: s.address})
	}
	return inputs
}

func (s *keySigner) checkInput(ptx *psbt.Packet, in ports.ToSignInput) error {
	if in.Index < 0 || in.Index >= len(ptx.Inputs) {
		return fmt.Errorf("input index out of bounds %d, len(inputs)=%d", in.Index, len(ptx.Inputs))
	}
	if ptx.Inputs[in.Index].WitnessUtxo == nil {
		return fmt.Errorf("missing witness utxo on input #%d", in.Index)
	}
	if in.Address != "" && in.Address != s.address {
		return fmt.Errorf("input %d: signer does not control address %s", in.Index, in.Address)
	}
	if in.PublicKey != "" {
		pubkey, _ := s.GetPublicKey(context.Background())
		if in.PublicKey != pubkey {
			return fmt.Errorf("input %d: signer does not own public key %s", in.Index, in.PublicKey)
		}
	}
	return nil
}
