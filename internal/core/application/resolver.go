package application

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// address encodings tried, in order, against the declared source address
var addressEncodings = []domain.AddressMatch{
	domain.MatchedTaproot,
	domain.MatchedWitnessPubKeyHash,
}

// resolveSigner finds which address encoding of the descriptor's key controls
// the declared source address.
func resolveSigner(
	ctx context.Context, newSigner ports.SignerFactory, descriptor domain.TransferDescriptor,
) (ports.Signer, domain.AddressMatch, error) {
	for _, encoding := range addressEncodings {
		signer, err := newSigner(descriptor.OwnerKey, encoding)
		if err != nil {
			return nil, domain.Unmatched, errors.INVALID_SOURCE_ADDRESS.Wrap(
				fmt.Errorf("line %d: invalid owner key: %w", descriptor.Line, err),
			).WithMetadata(errors.SourceAddressMetadata{
				Line: descriptor.Line, Address: descriptor.SourceAddr,
			})
		}

		addr, err := signer.GetAddress(ctx)
		if err != nil {
			return nil, domain.Unmatched, fmt.Errorf("failed to get signer address: %w", err)
		}
		if addr == descriptor.SourceAddr {
			return signer, encoding, nil
		}
	}

	return nil, domain.Unmatched, errors.INVALID_SOURCE_ADDRESS.New(
		"invalid source address: %s", descriptor.SourceAddr,
	).WithMetadata(errors.SourceAddressMetadata{
		Line: descriptor.Line, Address: descriptor.SourceAddr,
	})
}

// resolveDescriptors matches the owner key of every descriptor and looks up
// its asset. Descriptors that cannot be resolved are dropped and reported as
// failed.
func (s *service) resolveDescriptors(
	ctx context.Context, collectionId string, descriptors []domain.TransferDescriptor,
) ([]ResolvedTransfer, []TransferResult) {
	resolved := make([]ResolvedTransfer, 0, len(descriptors))
	failed := make([]TransferResult, 0)

	for _, descriptor := range descriptors {
		localId := descriptor.LocalId.String()
		logger := log.WithField("local_id", localId).WithField("line", descriptor.Line)

		asset, err := s.tracker.GetNftUtxo(ctx, collectionId, descriptor.LocalId)
		if err != nil {
			logger.WithError(err).Warn("failed to get nft utxo")
			failed = append(failed, failedResult(descriptor, err))
			continue
		}
		if asset == nil {
			err := errors.ASSET_NOT_FOUND.New("nft utxo not loaded").
				WithMetadata(errors.AssetMetadata{CollectionId: collectionId, LocalId: localId})
			logger.Warn("nft utxo not found")
			failed = append(failed, failedResult(descriptor, err))
			continue
		}

		signer, match, err := resolveSigner(ctx, s.newSigner, descriptor)
		if err != nil {
			logger.WithError(err).Warn("failed to resolve owner key")
			failed = append(failed, failedResult(descriptor, err))
			continue
		}
		logger.Debugf("source address matched as %s", match)

		resolved = append(resolved, ResolvedTransfer{
			Descriptor: descriptor,
			Asset:      *asset,
			Signer:     signer,
			Match:      match,
		})
	}

	return resolved, failed
}

func failedResult(descriptor domain.TransferDescriptor, err error) TransferResult {
	return TransferResult{
		Line:    descriptor.Line,
		LocalId: descriptor.LocalId.String(),
		Err:     err,
	}
}
