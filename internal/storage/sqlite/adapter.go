package sqlite

import (
	"github.com/relves/proofvault/internal/storage"
)

// Ensure LedgerStore implements storage.LedgerStore at compile time.
var _ storage.LedgerStore = (*LedgerStore)(nil)
