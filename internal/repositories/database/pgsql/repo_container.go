package pgsql

import (
	"github.com/jackc/pgx/v5/pgxpool"

	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
)

func NewRepositoryProvider(dbPool *pgxpool.Pool) portsrepo.RepositoryProvider {
	transactionRepo := newPgxTransactionRepository(dbPool)
	scanRepo := newPgxScanRepository(dbPool, transactionRepo)

	return portsrepo.RepositoryProvider{
		ScanRepo:        scanRepo,
		TransactionRepo: transactionRepo,
	}
}
