package planner

import (
	"github.com/Fantasim/solmigrate/internal/models"
)

// CloseEmpty plans the closure of zero-balance token accounts, returning
// their rent to the owner. Accounts of both programs may share a batch.
func (b *Builder) CloseEmpty(accounts []models.FungibleHolding) ([]models.Batch, error) {
	units := make([][]models.TransferOperation, 0, len(accounts))
	for _, acc := range accounts {
		if acc.RawAmount != 0 {
			continue
		}
		units = append(units, []models.TransferOperation{{
			Kind:          models.OpCloseEmptyAccount,
			Program:       acc.Program,
			Source:        b.owner.String(),
			Destination:   b.owner.String(),
			Mint:          acc.Mint,
			SourceAccount: acc.SourceAccount,
		}})
	}
	return b.pack(models.ClassCloseEmpty, units, 0)
}
