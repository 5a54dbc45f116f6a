package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the monitor.
type RPCClient interface {
	// GetAccountInfo retrieves one account's owner, lamports and raw data.
	// Returns nil when the account does not exist.
	GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error)

	// GetMultipleAccounts retrieves up to 100 accounts in one call. The
	// result slice is positionally aligned with addresses; missing
	// accounts are nil.
	GetMultipleAccounts(ctx context.Context, addresses []string) ([]*AccountInfo, error)

	// GetProgramAccounts retrieves all accounts owned by a program,
	// optionally filtered by data size.
	GetProgramAccounts(ctx context.Context, programID string, opts *ProgramAccountsOpts) ([]KeyedAccount, error)

	// GetHealth checks node health.
	GetHealth(ctx context.Context) error
}
