package ports

import "github.com/arkade-os/cat721-send/internal/core/domain"

type RepoManager interface {
	Batches() domain.BatchRepository
	Transfers() domain.TransferRepository
	Close()
}
