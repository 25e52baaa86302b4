// Command sign-order builds, signs and optionally wraps exchange orders
// in a transaction envelope ready for POST /api/v1/tx.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/nftsettle/pkg/app/transaction"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
)

type options struct {
	key        string
	exchange   string
	chainID    int64
	name       string
	version    string
	side       string
	policy     string
	collection string
	tokenID    int64
	amount     int64
	price      string
	payment    string
	expiresIn  time.Duration
	salt       int64
	nonce      int64
	bulk       int
	txNonce    uint64
	counter    string
	cancel     bool
}

func main() {
	var o options
	flag.StringVar(&o.key, "key", "", "trader private key (hex); empty generates one")
	flag.StringVar(&o.exchange, "exchange", "", "exchange address (verifying contract)")
	flag.Int64Var(&o.chainID, "chain-id", 1337, "chain id")
	flag.StringVar(&o.name, "name", "Blur Exchange", "EIP-712 domain name")
	flag.StringVar(&o.version, "version", "1.0", "EIP-712 domain version")
	flag.StringVar(&o.side, "side", "sell", "buy or sell")
	flag.StringVar(&o.policy, "policy", "", "matching policy address")
	flag.StringVar(&o.collection, "collection", "", "collection address")
	flag.Int64Var(&o.tokenID, "token-id", 1, "token id (first id when -bulk > 1)")
	flag.Int64Var(&o.amount, "amount", 1, "token amount")
	flag.StringVar(&o.price, "price", "1", "price in ether units")
	flag.StringVar(&o.payment, "payment", "", "payment token; empty means native")
	flag.DurationVar(&o.expiresIn, "expires-in", 0, "expiry from now; 0 never expires")
	flag.Int64Var(&o.salt, "salt", 0, "order salt; 0 uses the current unix nanos")
	flag.Int64Var(&o.nonce, "nonce", 0, "trader's current exchange nonce")
	flag.IntVar(&o.bulk, "bulk", 1, "sign this many orders (consecutive token ids) under one merkle root")
	flag.Uint64Var(&o.txNonce, "tx-nonce", 0, "wrap into a signed envelope with this nonce; 0 prints the inputs only")
	flag.StringVar(&o.counter, "counter", "", "file holding the counterparty's signed input JSON (builds an execute tx)")
	flag.BoolVar(&o.cancel, "cancel", false, "build a cancel_order(s) tx instead of signing for execution")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	signer, err := loadSigner(o.key)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(o.exchange) {
		return fmt.Errorf("-exchange must be an address, got %q", o.exchange)
	}
	domain := crypto.EIP712Domain{
		Name:              o.name,
		Version:           o.version,
		ChainID:           big.NewInt(o.chainID),
		VerifyingContract: common.HexToAddress(o.exchange),
	}
	separator, err := domain.Separator()
	if err != nil {
		return err
	}

	orders, err := buildOrders(o, signer.Address())
	if err != nil {
		return err
	}
	nonce := big.NewInt(o.nonce)

	if o.cancel {
		if o.txNonce == 0 {
			return fmt.Errorf("-cancel needs -tx-nonce")
		}
		if len(orders) == 1 {
			return printTx(signer, transaction.TxCancelOrder, o.txNonce, nil, transaction.CancelOrderPayload{Order: orders[0]})
		}
		return printTx(signer, transaction.TxCancelOrders, o.txNonce, nil, transaction.CancelOrdersPayload{Orders: orders})
	}

	var inputs []types.Input
	if len(orders) == 1 {
		in, err := crypto.SignOrder(signer, separator, orders[0], nonce)
		if err != nil {
			return err
		}
		inputs = []types.Input{in}

		typed, err := crypto.OrderToJSON(domain, &orders[0], nonce)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Typed data (eth_signTypedData_v4):")
		fmt.Fprintln(os.Stderr, typed)
	} else {
		if inputs, err = crypto.SignBulk(signer, separator, orders, nonce); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Trader: %s\n", signer.Address().Hex())
	for i := range inputs {
		fmt.Fprintf(os.Stderr, "Order hash: %s\n", crypto.HashOrder(&inputs[i].Order, nonce).Hex())
	}

	if o.counter == "" || o.txNonce == 0 {
		return printJSON(inputs)
	}
	if len(inputs) != 1 {
		return fmt.Errorf("-counter settles one order at a time")
	}

	data, err := os.ReadFile(o.counter)
	if err != nil {
		return err
	}
	var other types.Input
	if err := json.Unmarshal(data, &other); err != nil {
		return fmt.Errorf("failed to parse counter input: %w", err)
	}
	payload := transaction.ExecutePayload{Sell: other, Buy: inputs[0]}
	if inputs[0].Order.Side == types.Sell {
		payload = transaction.ExecutePayload{Sell: inputs[0], Buy: other}
	}

	// the buyer pays native-asset orders with the attached value
	var value *big.Int
	if payload.Buy.Order.Trader == signer.Address() && payload.Sell.Order.PaymentToken == (common.Address{}) {
		value = payload.Sell.Order.Price
	}
	return printTx(signer, transaction.TxExecute, o.txNonce, value, payload)
}

func loadSigner(key string) (*crypto.Signer, error) {
	if key != "" {
		return crypto.FromPrivateKeyHex(key)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Generated key %s (KEEP SECRET!)\n", s.PrivateKeyHex())
	return s, nil
}

func buildOrders(o options, trader common.Address) ([]types.Order, error) {
	var side types.Side
	switch o.side {
	case "buy":
		side = types.Buy
	case "sell":
		side = types.Sell
	default:
		return nil, fmt.Errorf("-side must be buy or sell, got %q", o.side)
	}
	for flagName, v := range map[string]string{"-policy": o.policy, "-collection": o.collection} {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("%s must be an address, got %q", flagName, v)
		}
	}
	price, err := decimal.NewFromString(o.price)
	if err != nil {
		return nil, fmt.Errorf("invalid -price: %w", err)
	}
	wei := price.Shift(18)
	if !wei.IsInteger() || wei.IsNegative() {
		return nil, fmt.Errorf("-price %s is not a whole number of wei", o.price)
	}
	payment := common.Address{}
	if o.payment != "" {
		if !common.IsHexAddress(o.payment) {
			return nil, fmt.Errorf("-payment must be an address, got %q", o.payment)
		}
		payment = common.HexToAddress(o.payment)
	}
	if o.bulk < 1 {
		return nil, fmt.Errorf("-bulk must be at least 1")
	}

	now := time.Now()
	expiration := big.NewInt(0)
	if o.expiresIn > 0 {
		expiration = big.NewInt(now.Add(o.expiresIn).Unix())
	}
	salt := o.salt
	if salt == 0 {
		salt = now.UnixNano()
	}

	orders := make([]types.Order, o.bulk)
	for i := range orders {
		orders[i] = types.Order{
			Trader:         trader,
			Side:           side,
			MatchingPolicy: common.HexToAddress(o.policy),
			Collection:     common.HexToAddress(o.collection),
			TokenID:        big.NewInt(o.tokenID + int64(i)),
			Amount:         big.NewInt(o.amount),
			PaymentToken:   payment,
			Price:          wei.BigInt(),
			ListingTime:    big.NewInt(now.Unix() - 1),
			ExpirationTime: expiration,
			Salt:           big.NewInt(salt + int64(i)),
		}
	}
	return orders, nil
}

func printTx(signer *crypto.Signer, typ transaction.TxType, nonce uint64, value *big.Int, payload any) error {
	tx, err := transaction.New(typ, signer.Address(), nonce, value, payload)
	if err != nil {
		return err
	}
	if err := tx.Sign(signer); err != nil {
		return err
	}
	if err := transaction.VerifySender(tx); err != nil {
		return fmt.Errorf("self-check failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "To submit: POST http://localhost:8080/api/v1/tx")
	return printJSON(tx)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
