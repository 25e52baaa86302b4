package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uhyunpark/nftsettle/params"
	"github.com/uhyunpark/nftsettle/pkg/api"
	"github.com/uhyunpark/nftsettle/pkg/app"
	"github.com/uhyunpark/nftsettle/pkg/crypto"
	"github.com/uhyunpark/nftsettle/pkg/events"
	"github.com/uhyunpark/nftsettle/pkg/p2p"
	"github.com/uhyunpark/nftsettle/pkg/storage"
	"github.com/uhyunpark/nftsettle/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	logger, err := util.NewLoggerWithFile(util.LogConfig{Path: logFile, Verbose: cfg.Log.Verbose})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile, "verbose", cfg.Log.Verbose)

	// ---- Owner key ----
	// Only genesis needs it; a reloaded chain already knows its owner.
	var owner *crypto.Signer
	if cfg.Exchange.OwnerKey != "" {
		if owner, err = crypto.FromPrivateKeyHex(cfg.Exchange.OwnerKey); err != nil {
			sugar.Fatalw("owner_key_invalid", "err", err)
		}
	} else {
		if owner, err = crypto.GenerateKey(); err != nil {
			sugar.Fatalw("owner_key_generate_failed", "err", err)
		}
		sugar.Warnw("owner_key_generated", "address", owner.Address().Hex(), "private_key", owner.PrivateKeyHex())
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "chain"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Event fan-out ----
	hub := api.NewHub(sugar.Named("ws"))
	pubs := events.Multi{hub}
	if len(cfg.Events.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer producer.Close()
		pubs = append(pubs, producer)
		sugar.Infow("kafka_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	// ---- App ----
	node, err := app.New(app.Options{
		Config:    cfg,
		Owner:     owner.Address(),
		Store:     store,
		Publisher: pubs,
		Clock:     util.RealClock{},
		Logger:    sugar.Named("app"),
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	info := node.ExchangeInfo()
	sugar.Infow("node_starting",
		"height", node.Height(),
		"exchange", info.Address.Hex(),
		"owner", info.Owner.Hex(),
		"chain_id", info.ChainID,
		"block_time_ms", cfg.Node.BlockTime.Milliseconds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(node, hub, cfg.API.CORSOrigins, sugar.Named("api"))

	// ---- P2P (optional) ----
	if cfg.P2P.Listen != "" {
		lpn, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer lpn.Close()
		lpn.SetHandler(func(_ context.Context, raw []byte) error {
			_, err := node.SubmitTx(raw)
			return err
		})
		apiServer.SetBroadcaster(lpn)
		for _, addr := range lpn.Addrs() {
			sugar.Infow("p2p_address", "addr", addr)
		}
	}

	go func() {
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Block production loop
	err = node.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("block_loop_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", node.Height())
}
