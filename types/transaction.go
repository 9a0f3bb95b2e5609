package types

import (
	"fmt"

	"github.com/govm-net/mvm/core"
)

// Transaction invokes one entry function on behalf of Signer
type Transaction struct {
	Signer   core.Address   `serialize:"true" json:"signer"`
	Module   core.ModuleID  `serialize:"true" json:"module"`
	Function string         `serialize:"true" json:"function"`
	TypeArgs []core.TypeTag `serialize:"true" json:"type_args"`
	Args     [][]byte       `serialize:"true" json:"args"`
}

// EncodeTransaction serializes a transaction
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	return encode(tx)
}

// DecodeTransaction parses a transaction
func DecodeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := decode(data, &tx); err != nil {
		return nil, err
	}
	if tx.Module.Name == "" || tx.Function == "" {
		return nil, fmt.Errorf("%w: transaction has no entry function", ErrMalformed)
	}
	return &tx, nil
}

// ArgBytes sums the length of every argument
func (tx *Transaction) ArgBytes() int {
	n := 0
	for _, a := range tx.Args {
		n += len(a)
	}
	return n
}
