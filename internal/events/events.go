package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is the event signature hash of Transfer(address,address,uint256).
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const (
	transferTopicCount = 3  // signature + indexed from + indexed to
	transferDataLength = 32 // single uint256 word
)

// Transfer is a decoded unit of chain activity. It belongs to exactly one
// block and is fully determined by that block's contents.
type Transfer struct {
	Height   uint64
	TxIndex  uint
	LogIndex uint
	Token    common.Address
	From     common.Address
	To       common.Address
	Amount   *big.Int
}

// DecodeInconsistencyError is returned when a log carrying the Transfer
// signature violates the expected schema. This signals an upstream protocol
// change and must halt indexing rather than be skipped.
type DecodeInconsistencyError struct {
	Height   uint64
	LogIndex uint
	Reason   string
}

func (e *DecodeInconsistencyError) Error() string {
	return fmt.Sprintf("decode inconsistency at height %d log %d: %s", e.Height, e.LogIndex, e.Reason)
}

// DecodeTransfers extracts transfer events from raw logs.
// It is a pure function of the log set: deterministic and side-effect free.
// Logs that do not carry the Transfer signature are ignored; logs that carry
// it but violate the schema produce a *DecodeInconsistencyError.
func DecodeTransfers(logs []types.Log) ([]Transfer, error) {
	transfers := make([]Transfer, 0, len(logs))

	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != TransferTopic {
			continue
		}

		if len(l.Topics) != transferTopicCount {
			// ERC-721 Transfer shares the signature but indexes the token id
			// as a fourth topic; those are not balance-bearing transfers.
			if len(l.Topics) == transferTopicCount+1 {
				continue
			}
			return nil, &DecodeInconsistencyError{
				Height:   l.BlockNumber,
				LogIndex: l.Index,
				Reason:   fmt.Sprintf("expected %d topics, got %d", transferTopicCount, len(l.Topics)),
			}
		}

		if len(l.Data) != transferDataLength {
			return nil, &DecodeInconsistencyError{
				Height:   l.BlockNumber,
				LogIndex: l.Index,
				Reason:   fmt.Sprintf("expected %d data bytes, got %d", transferDataLength, len(l.Data)),
			}
		}

		transfers = append(transfers, Transfer{
			Height:   l.BlockNumber,
			TxIndex:  l.TxIndex,
			LogIndex: l.Index,
			Token:    l.Address,
			From:     common.BytesToAddress(l.Topics[1].Bytes()),
			To:       common.BytesToAddress(l.Topics[2].Bytes()),
			Amount:   new(big.Int).SetBytes(l.Data),
		})
	}

	return transfers, nil
}
