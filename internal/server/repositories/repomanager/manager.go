package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mediasync/internal/dbx"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/jobs"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Jobs(db dbx.DBTX) jobs.Repository
	Accounts(db dbx.DBTX) accounts.Repository
}
