package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/nftsettle/pkg/app/types"
)

func testDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Blur Exchange",
		Version:           "1.0",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0x000000000000Ad05Ccc4F10045630fb830B95127"),
	}
}

func testOrder() types.Order {
	return types.Order{
		Trader:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Side:           types.Sell,
		MatchingPolicy: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Collection:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TokenID:        big.NewInt(1),
		Amount:         big.NewInt(1),
		PaymentToken:   common.Address{},
		Price:          big.NewInt(1e18),
		ListingTime:    big.NewInt(1_700_000_000),
		ExpirationTime: big.NewInt(1_700_086_400),
		Fees: []types.Fee{
			{Rate: 300, Recipient: common.HexToAddress("0x4444444444444444444444444444444444444444")},
		},
		Salt:        big.NewInt(42),
		ExtraParams: nil,
	}
}

// The apitypes domain hash must agree with a hand-packed EIP712Domain struct.
func TestDomainSeparatorMatchesManualEncoding(t *testing.T) {
	d := testDomain()
	got, err := d.Separator()
	if err != nil {
		t.Fatalf("separator: %v", err)
	}

	typeHash := ethcrypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	args := abi.Arguments{{Type: bytes32T}, {Type: bytes32T}, {Type: bytes32T}, {Type: uint256T}, {Type: addressT}}
	encoded, err := args.Pack(
		typeHash,
		ethcrypto.Keccak256Hash([]byte(d.Name)),
		ethcrypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		t.Fatal(err)
	}
	want := ethcrypto.Keccak256Hash(encoded)
	if got != want {
		t.Errorf("separator = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestDomainSeparatorDependsOnContractAndVersion(t *testing.T) {
	base, _ := testDomain().Separator()

	moved := testDomain()
	moved.VerifyingContract = common.HexToAddress("0x01")
	s1, _ := moved.Separator()

	bumped := testDomain()
	bumped.Version = "1.1"
	s2, _ := bumped.Separator()

	if s1 == base || s2 == base {
		t.Error("separator must change with verifying contract and version")
	}
}

func TestHashOrderDeterministic(t *testing.T) {
	o := testOrder()
	if HashOrder(&o, big.NewInt(0)) != HashOrder(&o, big.NewInt(0)) {
		t.Fatal("hash not deterministic")
	}
	clone := testOrder()
	if HashOrder(&o, big.NewInt(0)) != HashOrder(&clone, big.NewInt(0)) {
		t.Fatal("equal orders hash differently")
	}
}

func TestHashOrderCoversEveryField(t *testing.T) {
	base := testOrder()
	baseHash := HashOrder(&base, big.NewInt(0))

	mutations := map[string]func(o *types.Order){
		"trader":         func(o *types.Order) { o.Trader = common.HexToAddress("0x99") },
		"side":           func(o *types.Order) { o.Side = types.Buy },
		"matchingPolicy": func(o *types.Order) { o.MatchingPolicy = common.HexToAddress("0x99") },
		"collection":     func(o *types.Order) { o.Collection = common.HexToAddress("0x99") },
		"tokenId":        func(o *types.Order) { o.TokenID = big.NewInt(2) },
		"amount":         func(o *types.Order) { o.Amount = big.NewInt(2) },
		"paymentToken":   func(o *types.Order) { o.PaymentToken = common.HexToAddress("0x99") },
		"price":          func(o *types.Order) { o.Price = big.NewInt(1) },
		"listingTime":    func(o *types.Order) { o.ListingTime = big.NewInt(1) },
		"expirationTime": func(o *types.Order) { o.ExpirationTime = big.NewInt(1) },
		"feeRate":        func(o *types.Order) { o.Fees[0].Rate = 301 },
		"feeRecipient":   func(o *types.Order) { o.Fees[0].Recipient = common.HexToAddress("0x99") },
		"feeAdded":       func(o *types.Order) { o.Fees = append(o.Fees, types.Fee{Rate: 1}) },
		"feesRemoved":    func(o *types.Order) { o.Fees = nil },
		"salt":           func(o *types.Order) { o.Salt = big.NewInt(43) },
		"extraParams":    func(o *types.Order) { o.ExtraParams = []byte{0x01} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			o := testOrder()
			o.Fees = append([]types.Fee(nil), base.Fees...)
			mutate(&o)
			if HashOrder(&o, big.NewInt(0)) == baseHash {
				t.Errorf("changing %s did not change the order hash", name)
			}
		})
	}

	if HashOrder(&base, big.NewInt(1)) == baseHash {
		t.Error("changing nonce did not change the order hash")
	}
}

func TestDigestsAreDistinct(t *testing.T) {
	sep, _ := testDomain().Separator()
	o := testOrder()
	h := HashOrder(&o, big.NewInt(0))

	single := HashToSign(sep, h)
	root := HashToSignRoot(sep, h)
	oracle := HashToSignOracle(sep, h, 100)
	if single == root || single == oracle || root == oracle {
		t.Error("single, root and oracle digests must differ for the same input")
	}
	if HashToSignOracle(sep, h, 100) == HashToSignOracle(sep, h, 101) {
		t.Error("oracle digest must bind the block number")
	}
}

func TestHashToSignLayout(t *testing.T) {
	sep, _ := testDomain().Separator()
	h := ethcrypto.Keccak256Hash([]byte("order"))
	want := ethcrypto.Keccak256Hash(append(append([]byte{0x19, 0x01}, sep.Bytes()...), h.Bytes()...))
	if got := HashToSign(sep, h); got != want {
		t.Errorf("HashToSign = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestOrderToJSON(t *testing.T) {
	o := testOrder()
	out, err := OrderToJSON(testDomain(), &o, big.NewInt(7))
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed["primaryType"] != "Order" {
		t.Errorf("primaryType = %v", parsed["primaryType"])
	}
	msg := parsed["message"].(map[string]interface{})
	if msg["nonce"] != "7" || msg["price"] != "1000000000000000000" {
		t.Errorf("message = %v", msg)
	}
}

// Fixed vectors computed independently of this package.
func TestTypeHashGoldenValues(t *testing.T) {
	cases := map[string]struct {
		got  common.Hash
		want string
	}{
		"fee":         {FeeTypeHash, "0x05b43f730f67de334a342883f867101fc7ef3361dfdff4a29a7aa97e0920ef7a"},
		"order":       {OrderTypeHash, "0x376bfbc394a7ba7fdf10f224572cef371358e3053e362f4554fcd2ad56329b3f"},
		"root":        {RootTypeHash, "0x5bcf4b2eaff7fcdeb49f0bda53026b9ebdd93db566fe4c447125cb899e598c90"},
		"oracleOrder": {OracleOrderTypeHash, "0xd71080023d2f293ed0723dc287d6b2d4e7d27d0b6c12928e300721b7c78c7485"},
	}
	for name, c := range cases {
		if c.got != common.HexToHash(c.want) {
			t.Errorf("%s type hash = %s, want %s", name, c.got.Hex(), c.want)
		}
	}
}

func TestOrderDigestGoldenValues(t *testing.T) {
	sep, err := testDomain().Separator()
	if err != nil {
		t.Fatal(err)
	}
	if want := common.HexToHash("0x68e25ba9bdf16f19b7227e3ee7fff0b93558367587fc73fd50c5d978a0cd227f"); sep != want {
		t.Fatalf("separator = %s, want %s", sep.Hex(), want.Hex())
	}

	o := testOrder()
	h := HashOrder(&o, big.NewInt(0))
	vectors := []struct {
		name string
		got  common.Hash
		want string
	}{
		{"hashOrder", h, "0xe202fb7b47599c3664c872038196b6348742e997dca1c89ad0efed3daa6c655d"},
		{"hashOrder nonce 1", HashOrder(&o, big.NewInt(1)), "0x0d4b3a4b1abde02a4d7245875621561d47e7e8df25030f69ca85f490e26390f9"},
		{"hashToSign", HashToSign(sep, h), "0x99b80d6cdf388f8163b2771f926da9efed7ca919aa874a7b3802c5f163db1eb1"},
		{"hashToSignRoot", HashToSignRoot(sep, h), "0x4637431e9c8151dc8cbd79e76d41bc2dd8f4b310faacf30cfe22d5769e656c7d"},
		{"hashToSignOracle", HashToSignOracle(sep, h, 10), "0x2198fca688d3c79cb87135417843f7a7d33a6e77b5b30a0ad688c1d41d4738b5"},
	}
	for _, v := range vectors {
		if v.got != common.HexToHash(v.want) {
			t.Errorf("%s = %s, want %s", v.name, v.got.Hex(), v.want)
		}
	}
}
