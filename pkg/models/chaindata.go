package models

import "math/big"

// SyncBlock is the canonical on-wire block representation, keyed by
// (ChainID, Hash). Immutable once inserted; only deleted on deep-reorg
// recovery.
type SyncBlock struct {
	ChainID    ChainID
	Number     uint64
	Hash       Hash
	ParentHash Hash
	Timestamp  uint64
	LogsBloom  []byte
}

// LightBlock is the minimal projection of SyncBlock kept in the
// unfinalized chain buffer.
type LightBlock struct {
	Number     uint64
	Hash       Hash
	ParentHash Hash
	Timestamp  uint64
}

func (b SyncBlock) Light() LightBlock {
	return LightBlock{Number: b.Number, Hash: b.Hash, ParentHash: b.ParentHash, Timestamp: b.Timestamp}
}

// SyncTransaction is keyed by (ChainID, Hash); linked to its block by
// BlockHash.
type SyncTransaction struct {
	ChainID     ChainID
	Hash        Hash
	BlockHash   Hash
	BlockNumber uint64
	Index       uint
	From        Address
	To          *Address // nil for contract creation
	Value       *big.Int
	Input       []byte
}

// SyncReceipt is keyed by (ChainID, TransactionHash).
type SyncReceipt struct {
	ChainID           ChainID
	TransactionHash   Hash
	BlockHash         Hash
	Status            uint64
	GasUsed           uint64
	CumulativeGasUsed uint64
	ContractAddress   *Address
	LogsBloom         []byte
}

// SyncLog is keyed by (ChainID, BlockHash, LogIndex).
type SyncLog struct {
	ChainID         ChainID
	BlockHash       Hash
	BlockNumber     uint64
	LogIndex        uint
	TransactionHash Hash // may be the zero hash on some chains; permitted
	TransactionIndex uint
	Address         Address
	Topics          []Hash
	Data            []byte
	Removed         bool
}

// TraceAddress is the tree-preorder path of a call frame within a
// transaction, e.g. []int{0, 2, 1}.
type TraceAddress []int

// SyncTrace is keyed by (ChainID, TransactionHash, TraceAddress).
type SyncTrace struct {
	ChainID         ChainID
	TransactionHash Hash
	BlockHash       Hash
	BlockNumber     uint64
	TraceAddress    TraceAddress
	Type            CallType
	From            Address
	To              *Address
	Value           *big.Int
	Input           []byte
	Output          []byte
	Error           string
}
