package p2p

import (
	"bytes"
	"encoding/gob"
	"errors"
)

func init() {
	gob.Register(TxWire{})
}

// TxWire is the gossip envelope for one signed transaction.
type TxWire struct {
	Raw    []byte // canonical JSON of transaction.SignedTransaction
	SentAt int64  // unix millis at the origin
}

var errEmptyTx = errors.New("p2p: empty transaction")

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func decodeTx(data []byte) (TxWire, error) {
	var w TxWire
	if err := gobDecode(data, &w); err != nil {
		return TxWire{}, err
	}
	if len(w.Raw) == 0 {
		return TxWire{}, errEmptyTx
	}
	return w, nil
}
