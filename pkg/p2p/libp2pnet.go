// Package p2p gossips signed transactions between nodes over libp2p pubsub.
package p2p

import (
	"context"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const defaultTopic = "nftsettle/tx/1"

// TxHandler admits a transaction received from a peer. Errors are logged
// and the message is dropped.
type TxHandler func(ctx context.Context, raw []byte) error

type Libp2pNet struct {
	h     host.Host
	ps    *pubsub.PubSub
	log   *zap.SugaredLogger
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	muH     sync.RWMutex
	handler TxHandler
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	// malformed envelopes never reach the mesh
	err = ps.RegisterTopicValidator(cfg.Topic, func(_ context.Context, _ peer.ID, msg *pubsub.Message) bool {
		_, err := decodeTx(msg.Data)
		return err == nil
	})
	if err != nil {
		h.Close()
		return nil, err
	}

	net := &Libp2pNet{h: h, ps: ps, log: cfg.Logger}
	if net.topic, err = ps.Join(cfg.Topic); err != nil {
		h.Close()
		return nil, err
	}
	if net.sub, err = net.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go net.handleTxs(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) SetHandler(h TxHandler) { n.muH.Lock(); n.handler = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable multiaddrs including the /p2p/<id> suffix.
func (n *Libp2pNet) Addrs() []string {
	info := peer.AddrInfo{ID: n.h.ID(), Addrs: n.h.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(maddrs))
	for i, m := range maddrs {
		out[i] = m.String()
	}
	return out
}

// Peers returns the number of peers on the transaction topic.
func (n *Libp2pNet) Peers() int { return len(n.topic.ListPeers()) }

// BroadcastTx gossips a signed transaction to the topic.
func (n *Libp2pNet) BroadcastTx(ctx context.Context, raw []byte) error {
	if len(raw) == 0 {
		return errEmptyTx
	}
	data, err := gobEncode(TxWire{Raw: raw, SentAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return n.topic.Publish(ctx, data)
}

func (n *Libp2pNet) Close() error {
	n.sub.Cancel()
	if err := n.topic.Close(); err != nil {
		n.log.Debugw("topic_close_failed", "err", err)
	}
	return n.h.Close()
}

// inbound

func (n *Libp2pNet) handleTxs(ctx context.Context) {
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			return
		}
		// our own publications already went through the local mempool
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		w, err := decodeTx(msg.Data)
		if err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handler
		n.muH.RUnlock()
		if h == nil {
			continue
		}
		if err := h(ctx, w.Raw); err != nil {
			n.log.Debugw("gossip_tx_rejected", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		n.log.Debugw("gossip_tx_admitted", "from", msg.ReceivedFrom.String(),
			"lag_ms", time.Now().UnixMilli()-w.SentAt)
	}
}
