package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/leeplabs/leepdex/pkg/exchange"
	"github.com/leeplabs/leepdex/pkg/token"
)

// Server exposes the exchange over REST and streams its events over
// WebSocket. It is thin plumbing: all invariants live in the exchange.
type Server struct {
	ex       *exchange.Exchange
	registry *token.Registry
	router   *mux.Router
	hub      *Hub
	txLog    *os.File // append-only operation log, one JSON object per line
	log      *zap.SugaredLogger
}

// NewServer creates an API server over a deployed exchange.
func NewServer(ex *exchange.Exchange, registry *token.Registry, log *zap.SugaredLogger) *Server {
	txLogPath := os.Getenv("TX_LOG_FILE")
	if txLogPath == "" {
		txLogPath = "data/transactions.log"
	}
	os.MkdirAll(filepath.Dir(txLogPath), 0755)

	txLog, err := os.OpenFile(txLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warnw("tx_log_open_failed", "path", txLogPath, "err", err)
		txLog = nil // continue without tx logging
	} else {
		log.Infow("tx_log_opened", "path", txLogPath)
	}

	s := &Server{
		ex:       ex,
		registry: registry,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		txLog:    txLog,
		log:      log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Exchange and token reads
	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/balances/{asset}/{user}", s.handleGetBalance).Methods("GET")

	// Token wallet operations, the pre-custody leg of a deposit: approve the
	// exchange, then deposit.
	api.HandleFunc("/tokens/approve", s.handleTokenApprove).Methods("POST")
	api.HandleFunc("/tokens/transfer", s.handleTokenTransfer).Methods("POST")
	api.HandleFunc("/tokens/{asset}/balances/{user}", s.handleGetWalletBalance).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	// Trades
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Custody
	api.HandleFunc("/deposits/ether", s.handleDepositEther).Methods("POST")
	api.HandleFunc("/deposits/token", s.handleDepositToken).Methods("POST")
	api.HandleFunc("/withdrawals/ether", s.handleWithdrawEther).Methods("POST")
	api.HandleFunc("/withdrawals/token", s.handleWithdrawToken).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the WebSocket hub, the event pump and the HTTP listener.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.pumpEvents()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// pumpEvents bridges the exchange's event feed to WebSocket subscribers.
// Each event goes to its own channel ("deposit", "trade", ...) and to the
// firehose "events" channel.
func (s *Server) pumpEvents() {
	ch := make(chan exchange.Event, 256)
	sub := s.ex.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-ch:
			s.hub.BroadcastToChannel(ev.Kind(), ev)
			s.hub.BroadcastToChannel("events", ev)
			s.logTransaction(ev.Kind(), ev)
		case err := <-sub.Err():
			if err != nil {
				s.log.Warnw("event_feed_error", "err", err)
			}
			return
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ExchangeInfo{
		FeeAccount: s.ex.FeeAccount().Hex(),
		FeePercent: s.ex.FeePercent(),
		OrderCount: s.ex.OrderCount(),
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.registry.List()
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = TokenInfo{
			Address:     t.Address().Hex(),
			Name:        t.Name(),
			Symbol:      t.Symbol(),
			Decimals:    t.Decimals(),
			TotalSupply: FormatAmount(t.TotalSupply()),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", "")
		return
	}
	user, ok := parseAddress(vars["user"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}

	respondJSON(w, BalanceInfo{
		Asset:   asset.Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(s.ex.BalanceOf(asset, user)),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.ex.Orders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	o, err := s.ex.Order(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	trades, err := s.ex.Trades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade history unavailable", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = TradeInfo{
			ID:         t.ID,
			OrderID:    t.OrderID,
			User:       t.User.Hex(),
			Filler:     t.Filler.Hex(),
			TokenGet:   t.TokenGet.Hex(),
			AmountGet:  FormatAmount(t.AmountGet),
			TokenGive:  t.TokenGive.Hex(),
			AmountGive: FormatAmount(t.AmountGive),
			Fee:        FormatAmount(t.Fee),
			Timestamp:  t.Timestamp,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request) {
	var req TokenApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}
	tok, ok := s.lookupToken(w, req.Asset)
	if !ok {
		return
	}
	spender := s.ex.Address()
	if req.Spender != "" {
		if spender, ok = parseAddress(req.Spender); !ok {
			respondError(w, http.StatusBadRequest, "invalid spender address", "")
			return
		}
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if err := tok.Approve(user, spender, amount); err != nil {
		respondError(w, http.StatusBadRequest, "operation rejected", err.Error())
		return
	}
	respondJSON(w, AllowanceInfo{
		Asset:     tok.Address().Hex(),
		Owner:     user.Hex(),
		Spender:   spender.Hex(),
		Allowance: FormatAmount(tok.Allowance(user, spender)),
	})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	var req TokenTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}
	to, ok := parseAddress(req.To)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid recipient address", "")
		return
	}
	tok, ok := s.lookupToken(w, req.Asset)
	if !ok {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if err := tok.Transfer(user, to, amount); err != nil {
		respondError(w, http.StatusBadRequest, "operation rejected", err.Error())
		return
	}
	respondJSON(w, WalletBalanceInfo{
		Asset:   tok.Address().Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(tok.BalanceOf(user)),
	})
}

func (s *Server) handleGetWalletBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, ok := s.lookupToken(w, vars["asset"])
	if !ok {
		return
	}
	user, ok := parseAddress(vars["user"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}
	respondJSON(w, WalletBalanceInfo{
		Asset:   tok.Address().Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(tok.BalanceOf(user)),
	})
}

func (s *Server) handleDepositEther(w http.ResponseWriter, r *http.Request) {
	var req EtherFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	balance, err := s.ex.DepositEther(user, amount)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   exchange.EtherAddress.Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(balance),
	})
}

func (s *Server) handleDepositToken(w http.ResponseWriter, r *http.Request) {
	user, asset, amount, ok := s.decodeTokenFunds(w, r)
	if !ok {
		return
	}

	balance, err := s.ex.DepositToken(user, asset, amount)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   asset.Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(balance),
	})
}

func (s *Server) handleWithdrawEther(w http.ResponseWriter, r *http.Request) {
	var req EtherFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	balance, err := s.ex.WithdrawEther(user, amount)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   exchange.EtherAddress.Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(balance),
	})
}

func (s *Server) handleWithdrawToken(w http.ResponseWriter, r *http.Request) {
	user, asset, amount, ok := s.decodeTokenFunds(w, r)
	if !ok {
		return
	}

	balance, err := s.ex.WithdrawToken(user, asset, amount)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   asset.Hex(),
		User:    user.Hex(),
		Balance: FormatAmount(balance),
	})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}
	tokenGet, ok := parseAddress(req.TokenGet)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenGet address", "")
		return
	}
	tokenGive, ok := parseAddress(req.TokenGive)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenGive address", "")
		return
	}
	amountGet, err := ParseAmount(req.AmountGet)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountGet", err.Error())
		return
	}
	amountGive, err := ParseAmount(req.AmountGive)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountGive", err.Error())
		return
	}

	o, err := s.ex.MakeOrder(user, tokenGet, amountGet, tokenGive, amountGive)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}

	if err := s.ex.CancelOrder(user, id); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, map[string]any{"status": "cancelled", "id": id})
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	filler, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return
	}

	trade, err := s.ex.FillOrder(filler, id)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, TradeInfo{
		ID:         trade.ID,
		OrderID:    trade.OrderID,
		User:       trade.User.Hex(),
		Filler:     trade.Filler.Hex(),
		TokenGet:   trade.TokenGet.Hex(),
		AmountGet:  FormatAmount(trade.AmountGet),
		TokenGive:  trade.TokenGive.Hex(),
		AmountGive: FormatAmount(trade.AmountGive),
		Fee:        FormatAmount(trade.Fee),
		Timestamp:  trade.Timestamp,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) decodeTokenFunds(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, *big.Int, bool) {
	var req TokenFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return common.Address{}, common.Address{}, nil, false
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", "")
		return common.Address{}, common.Address{}, nil, false
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", "")
		return common.Address{}, common.Address{}, nil, false
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return common.Address{}, common.Address{}, nil, false
	}
	return user, asset, amount, true
}

// lookupToken resolves an asset string against the registry, writing the
// error response itself on failure.
func (s *Server) lookupToken(w http.ResponseWriter, asset string) (*token.Token, bool) {
	addr, ok := parseAddress(asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", "")
		return nil, false
	}
	tok, err := s.registry.Get(addr)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown token", err.Error())
		return nil, false
	}
	return tok, true
}

func orderInfo(o *exchange.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		User:       o.User.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		AmountGet:  FormatAmount(o.AmountGet),
		TokenGive:  o.TokenGive.Hex(),
		AmountGive: FormatAmount(o.AmountGive),
		Timestamp:  o.Timestamp,
		Status:     o.Status.String(),
	}
}

func parseAddress(s string) (common.Address, bool) {
	if s == "ether" || s == "ETHER" {
		return exchange.EtherAddress, true
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseOrderID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// respondExchangeError maps the exchange error taxonomy to status codes while
// passing the reason through verbatim.
func respondExchangeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrOrderClosed), errors.Is(err, exchange.ErrSelfFill):
		status = http.StatusConflict
	}
	respondError(w, status, "operation rejected", err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// logTransaction writes an exchange event to the append-only log file.
func (s *Server) logTransaction(eventType string, data interface{}) {
	if s.txLog == nil {
		return // logging disabled
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     eventType,
		"data":      data,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		s.log.Warnw("tx_log_marshal_failed", "err", err)
		return
	}

	s.txLog.Write(jsonData)
	s.txLog.Write([]byte("\n"))
}
