package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftsettle/pkg/app"
	"github.com/uhyunpark/nftsettle/pkg/app/transaction"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

const maxBodyBytes = 1 << 20

// Backend is the node surface the API serves. *app.App implements it.
type Backend interface {
	SubmitTx(raw []byte) (common.Hash, error)
	Header() ledger.Header
	MempoolSize() int
	ExchangeInfo() app.ExchangeInfo
	Deployment() app.Deployment
	Balances(addr common.Address) app.Balances
	TxNonce(addr common.Address) uint64
	OrderNonce(trader common.Address) *big.Int
	HashOrder(order *types.Order) app.OrderHashes
	IsCancelledOrFilled(hash common.Hash) bool
	OwnerOf(collection common.Address, id *big.Int) common.Address
	Receipt(hash common.Hash) (*types.Receipt, bool, error)
	Block(height uint64) (ledger.Header, bool, error)
	Events(height uint64) ([]ledger.Event, error)
	Faucet(addr common.Address, amount *big.Int) error
	FaucetNFT(to common.Address, id, amount *big.Int) error
}

// Broadcaster relays admitted transactions to peers.
type Broadcaster interface {
	BroadcastTx(ctx context.Context, raw []byte) error
}

type ctxKey int

const requestIDKey ctxKey = 0

// Server handles REST API and WebSocket connections
type Server struct {
	backend Backend
	router  *mux.Router
	hub     *Hub // WebSocket hub
	gossip  Broadcaster
	origins []string
	log     *zap.SugaredLogger
	srv     *http.Server
}

// NewServer creates a new API server
func NewServer(backend Backend, hub *Hub, corsOrigins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		backend: backend,
		router:  mux.NewRouter(),
		hub:     hub,
		origins: corsOrigins,
		log:     log,
	}
	s.setupRoutes()
	return s
}

// SetBroadcaster makes the server gossip every admitted transaction.
func (s *Server) SetBroadcaster(b Broadcaster) { s.gossip = b }

// Hub returns the WebSocket hub (an events.Publisher).
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Exchange endpoints
	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/deployment", s.handleGetDeployment).Methods("GET")
	api.HandleFunc("/orders/hash", s.handleHashOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleGetOrderStatus).Methods("GET")
	api.HandleFunc("/nfts/{collection}/{tokenId}/owner", s.handleGetTokenOwner).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/blocks/{height}", s.handleGetBlock).Methods("GET")

	// Transactions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	// Devnet faucet
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	api.HandleFunc("/faucet/nft", s.handleFaucetNFT).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. The hub runs until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requestID tags each request with an id, echoed in X-Request-ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		s.log.Debugw("http_request", "id", id, "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.backend.ExchangeInfo())
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.backend.Deployment())
}

func (s *Server) handleHashOrder(w http.ResponseWriter, r *http.Request) {
	var order types.Order
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&order); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	respondJSON(w, s.backend.HashOrder(&order))
}

func (s *Server) handleGetOrderStatus(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid order hash", "")
		return
	}
	respondJSON(w, map[string]any{
		"orderHash":         hash,
		"cancelledOrFilled": s.backend.IsCancelledOrFilled(hash),
	})
}

func (s *Server) handleGetTokenOwner(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["collection"]) {
		respondError(w, r, http.StatusBadRequest, "invalid collection address", "")
		return
	}
	id, ok := new(big.Int).SetString(vars["tokenId"], 10)
	if !ok || id.Sign() < 0 {
		respondError(w, r, http.StatusBadRequest, "invalid token id", "")
		return
	}
	collection := common.HexToAddress(vars["collection"])
	respondJSON(w, TokenOwner{
		Collection: collection,
		TokenID:    id.String(),
		Owner:      s.backend.OwnerOf(collection, id),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, r, http.StatusBadRequest, "invalid address", "")
		return
	}

	addr := common.HexToAddress(addressStr)
	bal := s.backend.Balances(addr)
	respondJSON(w, AccountInfo{
		Address:    addr,
		TxNonce:    s.backend.TxNonce(addr),
		OrderNonce: s.backend.OrderNonce(addr).String(),
		Native:     newAmount(bal.Native),
		Pool:       newAmount(bal.Pool),
		Weth:       newAmount(bal.Weth),
	})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	h := s.backend.Header()
	respondJSON(w, ChainStatus{
		Height:      h.Height,
		Timestamp:   h.Timestamp,
		StateHash:   h.StateHash,
		MempoolSize: s.backend.MempoolSize(),
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	hdr, ok, err := s.backend.Block(height)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to read block", err.Error())
		return
	}
	if !ok {
		respondError(w, r, http.StatusNotFound, "block not found", "")
		return
	}
	evs, err := s.backend.Events(height)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to read events", err.Error())
		return
	}
	if evs == nil {
		evs = []ledger.Event{}
	}
	respondJSON(w, BlockInfo{Header: hdr, Events: evs})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	hash, err := s.backend.SubmitTx(body)
	if err != nil {
		respondError(w, r, submitStatus(err), "transaction rejected", err.Error())
		return
	}
	s.log.Infow("tx_submitted", "id", requestIDFrom(r), "hash", hash.Hex(), "bytes", len(body))

	if s.gossip != nil {
		if err := s.gossip.BroadcastTx(r.Context(), body); err != nil {
			s.log.Warnw("tx_gossip_failed", "hash", hash.Hex(), "err", err)
		}
	}

	respondJSONStatus(w, http.StatusAccepted, SubmitTxResponse{Status: "submitted", TxHash: hash, RequestID: requestIDFrom(r)})
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrMempoolFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, app.ErrStaleNonce):
		return http.StatusConflict
	case errors.Is(err, transaction.ErrInvalidSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid transaction hash", "")
		return
	}
	rc, found, err := s.backend.Receipt(hash)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to read receipt", err.Error())
		return
	}
	if !found {
		respondError(w, r, http.StatusNotFound, "receipt not found", "pending or unknown")
		return
	}
	respondJSON(w, rc)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Amount == "" {
		req.Amount = "10"
	}
	wei, err := parseEther(req.Amount)
	if err != nil || wei.Sign() <= 0 {
		respondError(w, r, http.StatusBadRequest, "invalid amount", req.Amount)
		return
	}
	if err := s.backend.Faucet(req.Address, wei); err != nil {
		respondError(w, r, faucetStatus(err), "faucet failed", err.Error())
		return
	}
	s.log.Infow("faucet", "id", requestIDFrom(r), "address", req.Address.Hex(), "amount", req.Amount)
	respondJSON(w, map[string]any{"address": req.Address, "amount": newAmount(wei)})
}

func (s *Server) handleFaucetNFT(w http.ResponseWriter, r *http.Request) {
	var req FaucetNFTRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	id, ok := new(big.Int).SetString(req.TokenID, 10)
	if !ok || id.Sign() < 0 {
		respondError(w, r, http.StatusBadRequest, "invalid token id", req.TokenID)
		return
	}
	var amount *big.Int
	if req.Amount != "" {
		if amount, ok = new(big.Int).SetString(req.Amount, 10); !ok || amount.Sign() < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid amount", req.Amount)
			return
		}
	}
	if err := s.backend.FaucetNFT(req.Address, id, amount); err != nil {
		respondError(w, r, faucetStatus(err), "faucet failed", err.Error())
		return
	}
	d := s.backend.Deployment()
	collection := d.DemoERC721
	if amount != nil && amount.Sign() > 0 {
		collection = d.DemoERC1155
	}
	respondJSON(w, map[string]any{"address": req.Address, "collection": collection, "tokenId": id.String()})
}

func faucetStatus(err error) int {
	if errors.Is(err, app.ErrFaucetDisabled) {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseHash(s string) (common.Hash, bool) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}
