package solana

// AccountInfo is one account's state at a slot.
type AccountInfo struct {
	Address  string
	Owner    string // owning program ID
	Lamports uint64
	Data     []byte // raw account data, already base64-decoded
	Slot     int64
}

// KeyedAccount pairs an account address with its state, as returned by
// getProgramAccounts.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}

// ProgramAccountsOpts defines optional filters for getProgramAccounts.
type ProgramAccountsOpts struct {
	// DataSize filters accounts by exact data length; 0 disables.
	DataSize int
	// MemcmpOffset/MemcmpBytes filter accounts whose data matches the
	// base58-encoded bytes at the offset; empty bytes disables.
	MemcmpOffset int
	MemcmpBytes  string
}
