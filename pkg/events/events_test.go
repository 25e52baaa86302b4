package events

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

func TestToMessages(t *testing.T) {
	exchange := common.HexToAddress("0xe0")
	evs := []ledger.Event{
		{Contract: exchange, Name: "OrdersMatched", Height: 12, Data: map[string]string{"price": "1"}},
		{Contract: exchange, Name: "NonceIncremented", Height: 12},
	}
	msgs, err := toMessages(12, evs)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, exchange.Hex(), string(msgs[0].Key))
	assert.Contains(t, string(msgs[0].Value), `"OrdersMatched"`)
	assert.Contains(t, string(msgs[0].Value), `"price":"1"`)
	assert.Equal(t, "event", msgs[1].Headers[0].Key)
	assert.Equal(t, "NonceIncremented", string(msgs[1].Headers[0].Value))
	assert.Equal(t, "12", string(msgs[1].Headers[1].Value))
	assert.Equal(t, "1", string(msgs[1].Headers[2].Value))
}

func TestMulti(t *testing.T) {
	var got []uint64
	ok := PublisherFunc(func(_ context.Context, h uint64, _ []ledger.Event) error {
		got = append(got, h)
		return nil
	})
	boom := errors.New("broker down")
	failing := PublisherFunc(func(context.Context, uint64, []ledger.Event) error { return boom })

	err := Multi{ok, nil, failing, ok}.Publish(context.Background(), 3, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []uint64{3, 3}, got)
}
