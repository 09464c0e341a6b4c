package models

// ChildExtractionKind selects where in a parent log a child address lives.
type ChildExtractionKind uint8

const (
	// ChildFromTopic extracts the child address from an indexed topic.
	ChildFromTopic ChildExtractionKind = iota
	// ChildFromData extracts the child address from a byte offset in the
	// unindexed log data.
	ChildFromData
)

// Factory is a filter-like descriptor: a parent log spec plus a rule for
// pulling a child contract address out of each matching parent log.
type Factory struct {
	ID FactoryID

	ChainID        ChainID
	ParentAddress  Address
	EventSelector  Hash // topic0 of the parent event
	Extraction     ChildExtractionKind
	TopicIndex     int // valid when Extraction == ChildFromTopic (1..3)
	DataOffset     int // valid when Extraction == ChildFromData, in 32-byte words

	FromBlock uint64
	ToBlock   *uint64
}

// ChildAddress records the first block at which a factory-discovered
// address was observed. FirstSeenBlock is monotone: it may only decrease
// when an earlier occurrence of the same address is observed later.
type ChildAddress struct {
	FactoryID      FactoryID
	Address        Address
	FirstSeenBlock uint64
}
