package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Exchange struct {
	Name    string
	Version string
	ChainID int64

	// OwnerKey deploys every contract at genesis and owns them afterwards.
	// Empty means a throwaway key is generated (devnet only).
	OwnerKey string

	// Oracle co-signs orders that opt in. No signature verifies against
	// the zero address.
	Oracle     string
	BlockRange uint64
}

type Node struct {
	DataDir string

	// BlockTime paces block production. The ledger timestamp of each block
	// is the wall clock at production time, so listing/expiration checks see
	// at most BlockTime of lag.
	BlockTime     time.Duration
	MaxBlockBytes int64 // 0 = unbounded
	MempoolLimit  int
	Faucet        bool
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type P2P struct {
	Listen    string
	Bootstrap []string
	Topic     string
}

type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
}

type Log struct {
	File    string
	Verbose bool
}

type Config struct {
	Exchange Exchange
	Node     Node
	API      API
	P2P      P2P
	Events   Events
	Log      Log
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Name:       "Blur Exchange",
			Version:    "1.0",
			ChainID:    1337,
			BlockRange: 5,
		},
		Node: Node{
			DataDir:       "data",
			BlockTime:     1 * time.Second,
			MaxBlockBytes: 4 << 20,
			MempoolLimit:  10_000,
			Faucet:        true,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		P2P: P2P{
			Topic: "nftsettle/tx/1",
		},
		Events: Events{
			KafkaTopic: "nftsettle.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Exchange.Name = getEnv("EXCHANGE_NAME", cfg.Exchange.Name)
	cfg.Exchange.Version = getEnv("EXCHANGE_VERSION", cfg.Exchange.Version)
	cfg.Exchange.OwnerKey = getEnv("OWNER_KEY", cfg.Exchange.OwnerKey)
	cfg.Exchange.Oracle = getEnv("ORACLE_ADDRESS", cfg.Exchange.Oracle)
	if v, err := strconv.ParseInt(os.Getenv("CHAIN_ID"), 10, 64); err == nil {
		cfg.Exchange.ChainID = v
	}
	if v, err := strconv.ParseUint(os.Getenv("BLOCK_RANGE"), 10, 64); err == nil {
		cfg.Exchange.BlockRange = v
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if ms, err := strconv.Atoi(os.Getenv("BLOCK_TIME_MS")); err == nil && ms > 0 {
		cfg.Node.BlockTime = time.Duration(ms) * time.Millisecond
	}
	if v, err := strconv.Atoi(os.Getenv("MEMPOOL_LIMIT")); err == nil {
		cfg.Node.MempoolLimit = v
	}
	if faucet := os.Getenv("FAUCET"); faucet != "" {
		cfg.Node.Faucet = faucet == "true"
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := splitList(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.API.CORSOrigins = origins
	}

	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	cfg.P2P.Bootstrap = splitList(os.Getenv("P2P_BOOTSTRAP"))

	cfg.Events.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Verbose = os.Getenv("VERBOSE") == "true"

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
