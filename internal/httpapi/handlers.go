package httpapi

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"my-bank-api/internal/domain"
	"my-bank-api/internal/ledger"
	"my-bank-api/internal/metrics"
	"my-bank-api/internal/store"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"
)

//go:embed openapi.json
var openAPIDoc []byte

// promotion walks every branch, so it gets more room than single-account calls.
const bulkTimeoutFactor = 4

type Handlers struct {
	svc     *ledger.Service
	logger  *zap.Logger
	metrics metrics.Collector
	timeout time.Duration
}

func NewHandlers(svc *ledger.Service, logger *zap.Logger, m metrics.Collector, timeout time.Duration) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handlers{svc: svc, logger: logger, metrics: m, timeout: timeout}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) Doc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDoc)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// writeCached writes v with an ETag over its canonical (JCS) form and
// answers 304 when the client already holds that representation.
func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	sum := sha256.Sum256(canon)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Values("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// etagMatches applies the weak comparison If-None-Match uses: "*" matches
// anything, and a W/ prefix is ignored on either side.
func etagMatches(headers []string, etag string) bool {
	want := strings.TrimPrefix(etag, "W/")
	for _, h := range headers {
		for _, tag := range strings.Split(h, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || strings.TrimPrefix(tag, "W/") == want {
				return true
			}
		}
	}
	return false
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	// Ledger outcomes
	case errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrPromotionInProgress):
		return http.StatusConflict

	// Infrastructure
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	// Don't leak internals on 5xx.
	if code >= 500 {
		switch code {
		case http.StatusServiceUnavailable:
			return "service unavailable"
		case http.StatusGatewayTimeout:
			return "timeout"
		}
		return "internal error"
	}
	return err.Error()
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrPromotionInProgress):
		return "conflict"
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// fail records the failed operation and writes the public error.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, start time.Time, err error) {
	h.metrics.RecordOperation(op, outcome(err), time.Since(start))
	code := httpStatusForErr(err)
	if code >= 500 {
		h.logger.Error("operation failed",
			zap.String("op", op),
			zap.Int("status", code),
			zap.String("correlation_id", CorrelationID(r.Context())),
			zap.Error(causeOf(err)),
		)
	}
	writeErr(w, code, publicErrMessage(code, err))
}

// causeOf digs the store error out of an internal failure for logging.
func causeOf(err error) error {
	var ie *ledger.InternalError
	if errors.As(err, &ie) && ie.Err != nil {
		return ie.Err
	}
	return err
}

func (h *Handlers) done(op string, start time.Time) {
	h.metrics.RecordOperation(op, "ok", time.Since(start))
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func nonNil(accts []domain.Account) []domain.Account {
	if accts == nil {
		return []domain.Account{}
	}
	return accts
}

// GET /accounts
func (h *Handlers) Accounts(w http.ResponseWriter, r *http.Request) {
	const op = "accounts"
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	accts, err := h.svc.Accounts(ctx)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeCached(w, r, nonNil(accts))
}

// GET /accounts/balance?agencia=&conta=
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	const op = "balance"
	start := time.Now()

	branch, err := queryInt(r, "agencia")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	number, err := queryInt(r, "conta")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bal, err := h.svc.Balance(ctx, branch, number)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeCached(w, r, domain.BalanceResponse{Balance: bal})
}

// GET /accounts/average?agencia=
func (h *Handlers) Average(w http.ResponseWriter, r *http.Request) {
	const op = "average"
	start := time.Now()

	branch, err := queryInt(r, "agencia")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	avg, err := h.svc.Average(ctx, branch)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeCached(w, r, domain.AverageResponse{Average: json.Number(avg.String())})
}

// GET /accounts/lowestBalances?quant=
func (h *Handlers) LowestBalances(w http.ResponseWriter, r *http.Request) {
	h.ranking(w, r, "lowest balances", h.svc.LowestBalances)
}

// GET /accounts/richestClients?quant=
func (h *Handlers) RichestClients(w http.ResponseWriter, r *http.Request) {
	h.ranking(w, r, "richest clients", h.svc.RichestClients)
}

func (h *Handlers) ranking(w http.ResponseWriter, r *http.Request, op string, rank func(context.Context, int) ([]domain.Account, error)) {
	start := time.Now()

	n, err := queryInt(r, "quant")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	accts, err := rank(ctx, n)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeCached(w, r, nonNil(accts))
}

// PATCH /accounts/deposit
func (h *Handlers) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "deposit", h.svc.Deposit)
}

// PATCH /accounts/withdraw
func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "withdraw", h.svc.Withdraw)
}

func (h *Handlers) movement(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, int, int, int64) (int64, error)) {
	start := time.Now()

	var req domain.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bal, err := apply(ctx, req.Branch, req.AccountNumber, req.Amount)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeJSON(w, http.StatusOK, domain.BalanceResponse{Balance: bal})
}

// DELETE /accounts/close
func (h *Handlers) Close(w http.ResponseWriter, r *http.Request) {
	const op = "close"
	start := time.Now()

	var req domain.BranchAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	remaining, err := h.svc.Close(ctx, req.Branch, req.AccountNumber)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeJSON(w, http.StatusOK, domain.CloseResponse{ActiveAccounts: remaining})
}

// POST /accounts/transfer
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	const op = "transfer"
	start := time.Now()

	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bal, err := h.svc.Transfer(ctx, req.FromAccount, req.ToAccount, req.Amount)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)
	writeJSON(w, http.StatusOK, domain.BalanceResponse{Balance: bal})
}

// PUT /accounts/privateClients
func (h *Handlers) PromotePrivate(w http.ResponseWriter, r *http.Request) {
	const op = "promote richest"
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), bulkTimeoutFactor*h.timeout)
	defer cancel()

	accts, err := h.svc.PromoteRichest(ctx)
	if err != nil {
		h.fail(w, r, op, start, err)
		return
	}
	h.done(op, start)

	h.logger.Info("private branch promotion finished",
		zap.Int("private_accounts", len(accts)),
		zap.String("correlation_id", CorrelationID(r.Context())),
		zap.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, nonNil(accts))
}
