package chainrpc

import (
	"github.com/ethereum/go-ethereum/common"
)

// BlockRecord is a pre-decoded entry from the block stream: a
// monotonically increasing ledger number. Bit-layout of the underlying
// ledger is out of scope (spec.md §1) — the core only ever sees this
// shape.
type BlockRecord struct {
	Number uint32
}

// ContractEventRecord is a pre-decoded entry from the contract-event
// stream, ordered within a block by Index. Topic is one of the names
// listed in spec.md §6; Fields is a self-describing variant tree (spec.md
// §9 "Dynamic protocol-value decoding") — callers must bounds-check
// positional access and treat a missing field as a drop signal, not a
// panic.
type ContractEventRecord struct {
	Block    uint32
	Index    uint32
	Contract common.Address
	Topic    string
	Fields   []interface{}
}

// Field returns the i'th positional field, or (nil, false) if the event
// doesn't carry that many fields — the bounds-checked access spec.md §9
// requires instead of unchecked indexing.
func (e ContractEventRecord) Field(i int) (interface{}, bool) {
	if i < 0 || i >= len(e.Fields) {
		return nil, false
	}
	return e.Fields[i], true
}

// LedgerEntry is a single decoded get-ledger-entries result row.
type LedgerEntry struct {
	Key   string
	Value []byte
}

// SimulateResult is the decoded response of a simulate-transaction call:
// enough for the caller to decide whether to proceed to signing, without
// the core needing to understand the underlying transaction envelope.
type SimulateResult struct {
	Success   bool
	MinFee    int64
	ResultXDR string
	Error     string
}
