package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldvault/internal/access"
	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/server/handler"
	"github.com/alanyoungcy/yieldvault/internal/server/middleware"
	"github.com/alanyoungcy/yieldvault/internal/service"
	"github.com/alanyoungcy/yieldvault/internal/strategy"
	"github.com/alanyoungcy/yieldvault/internal/token"
	"github.com/alanyoungcy/yieldvault/internal/vault"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	tok     *token.Memory
	svc     *service.VaultService
	bus     *eventLog
	reserve *strategy.Reserve
	gov     *crypto.Signer
	user    *crypto.Signer
}

func newTestAPI(t *testing.T, cfg Config, limiter domain.RateLimiter) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tok := token.NewMemory("USDC", 6)
	v, err := vault.New(vault.Config{
		Address: crypto.DeriveAddress("vault:server-test"),
		Logger:  logger,
	}, tok)
	require.NoError(t, err)

	reg := strategy.NewRegistry()
	reserve := strategy.NewReserve("reserve", v, tok, strategy.Trigger{})
	require.NoError(t, reg.Register(reserve))
	bus := &eventLog{}
	svc := service.NewVaultService(service.Deps{Vault: v, Strategies: reg, Bus: bus}, 1, logger)

	gov, err := crypto.GenerateSigner()
	require.NoError(t, err)
	user, err := crypto.GenerateSigner()
	require.NoError(t, err)
	table := access.NewTable()
	table.Grant(gov.Address(), domain.RoleGovernance)

	if cfg.SignatureMaxAge == 0 {
		cfg.SignatureMaxAge = time.Minute
	}
	snaps := handler.LiveSnapshots{Vault: svc}
	handlers := Handlers{
		Health:     handler.NewHealthHandler("serve", nil, logger),
		Vault:      handler.NewVaultHandler(snaps, logger),
		Strategy:   handler.NewStrategyHandler(svc, svc, snaps, logger),
		History:    handler.NewHistoryHandler(svc, handler.BusEvents{Vault: v.Address(), Bus: bus}, nil, logger),
		Operations: handler.NewOperationsHandler(svc, logger),
		Admin:      handler.NewAdminHandler(svc, logger),
	}
	return &testAPI{
		t:       t,
		handler: NewHandler(cfg, handlers, Deps{Callers: table, Limiter: limiter}, nil, logger),
		tok:     tok,
		svc:     svc,
		bus:     bus,
		reserve: reserve,
		gov:     gov,
		user:    user,
	}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) signed(signer *crypto.Signer, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(a.t, err)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := signer.SignMessage(middleware.SignedMessage(method, path, ts, data))
	require.NoError(a.t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set(middleware.SignatureHeader, sig)
	req.Header.Set(middleware.TimestampHeader, ts)
	return a.do(req)
}

func (a *testAPI) get(path string) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestDepositWithdrawFlow(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	api.tok.Mint(api.user.Address(), big.NewInt(1000))

	rec := api.signed(api.user, http.MethodPost, "/api/deposit", map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dep := decode[vault.DepositResult](t, rec)
	assert.Equal(t, "1000", dep.Shares.String())

	rec = api.get("/api/vault/balances/" + api.user.Address().Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[struct {
		Shares *big.Int `json:"shares"`
		Value  *big.Int `json:"value"`
	}](t, rec)
	assert.Equal(t, "1000", bal.Shares.String())
	assert.Equal(t, "1000", bal.Value.String())

	rec = api.signed(api.user, http.MethodPost, "/api/withdraw", map[string]string{"shares": "2000"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.signed(api.user, http.MethodPost, "/api/withdraw", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wd := decode[vault.WithdrawResult](t, rec)
	assert.Equal(t, "1000", wd.Paid.String())

	bal2, err := api.tok.BalanceOf(context.Background(), api.user.Address())
	require.NoError(t, err)
	assert.Equal(t, "1000", bal2.String())
}

func TestMutationsRequireSignature(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/deposit", bytes.NewReader([]byte(`{"amount":"1"}`)))
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)

	// Signature over a different body.
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := api.user.SignMessage(middleware.SignedMessage(http.MethodPost, "/api/deposit", ts, []byte(`{"amount":"1"}`)))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/deposit", bytes.NewReader([]byte(`{"amount":"2"}`)))
	req.Header.Set(middleware.SignatureHeader, sig)
	req.Header.Set(middleware.TimestampHeader, ts)
	api.tok.Mint(api.user.Address(), big.NewInt(2))
	rec := api.do(req)
	// The recovered address is some unrelated account with no tokens.
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", api.svc.Snapshot().TotalShares.String())

	// Stale timestamp.
	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	sig, err = api.user.SignMessage(middleware.SignedMessage(http.MethodPost, "/api/deposit", old, []byte(`{"amount":"1"}`)))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/deposit", bytes.NewReader([]byte(`{"amount":"1"}`)))
	req.Header.Set(middleware.SignatureHeader, sig)
	req.Header.Set(middleware.TimestampHeader, old)
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)
}

func TestStrategyRoutes(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	api.tok.Mint(api.user.Address(), big.NewInt(1000))
	require.Equal(t, http.StatusOK,
		api.signed(api.user, http.MethodPost, "/api/deposit", map[string]string{"amount": "1000"}).Code)

	add := map[string]any{"name": "reserve", "debt_ratio": 4000}
	rec := api.signed(api.user, http.MethodPost, "/api/strategies", add)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.signed(api.gov, http.MethodPost, "/api/strategies", add)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.signed(api.gov, http.MethodPost, "/api/strategies", add)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.signed(api.gov, http.MethodPost, "/api/strategies", map[string]any{"name": "nope", "debt_ratio": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	addr := api.reserve.Address().Hex()
	rec = api.signed(api.gov, http.MethodPost, "/api/strategies/"+addr+"/harvest", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[domain.HarvestReport](t, rec)
	assert.Equal(t, "400", report.Credit.String())

	rec = api.signed(api.gov, http.MethodPut, "/api/strategies/"+addr, map[string]any{"debt_ratio": 2000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.signed(api.gov, http.MethodPut, "/api/strategies/"+addr, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.get("/api/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Strategies []service.StrategyView `json:"strategies"`
	}](t, rec)
	require.Len(t, list.Strategies, 1)
	assert.Equal(t, uint64(2000), list.Strategies[0].Record.DebtRatio)
	assert.Equal(t, 0, list.Strategies[0].QueuePosition)

	rec = api.signed(api.gov, http.MethodPost, "/api/strategies/"+addr+"/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.signed(api.gov, http.MethodPost, "/api/strategies/not-an-address/revoke", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)

	rec := api.signed(api.gov, http.MethodPut, "/api/vault/deposit-limit", map[string]string{"limit": "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "500", api.svc.Snapshot().DepositLimit.String())

	api.tok.Mint(api.user.Address(), big.NewInt(1000))
	rec = api.signed(api.user, http.MethodPost, "/api/deposit", map[string]string{"amount": "1000"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.signed(api.gov, http.MethodPut, "/api/vault/deposit-limit", map[string]string{"limit": "unlimited"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, domain.IsUnlimited(api.svc.Snapshot().DepositLimit))

	rec = api.signed(api.gov, http.MethodPut, "/api/vault/performance-fee", map[string]int{"bps": 9000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.signed(api.gov, http.MethodPut, "/api/vault/performance-fee", map[string]int{"bps": 500})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(500), api.svc.Snapshot().PerformanceFeeBps)

	rec = api.signed(api.user, http.MethodPost, "/api/vault/shutdown", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.signed(api.gov, http.MethodPost, "/api/vault/shutdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, api.svc.Snapshot().EmergencyShutdown)

	rec = api.signed(api.user, http.MethodPost, "/api/deposit", map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetVault(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	rec := api.get("/api/vault")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Vault         common.Address `json:"vault"`
		PricePerShare *big.Int       `json:"price_per_share"`
		MaxAvailable  *big.Int       `json:"max_available_shares"`
		Unlimited     bool           `json:"deposit_limit_unlimited"`
	}](t, rec)
	assert.Equal(t, crypto.DeriveAddress("vault:server-test"), body.Vault)
	assert.Equal(t, "1000000", body.PricePerShare.String())
	assert.Equal(t, "0", body.MaxAvailable.String())
	assert.True(t, body.Unlimited)

	api.tok.Mint(api.user.Address(), big.NewInt(750))
	rec = api.signed(api.user, http.MethodPost, "/api/deposit", map[string]string{"amount": "750"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.get("/api/vault")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[struct {
		Vault         common.Address `json:"vault"`
		PricePerShare *big.Int       `json:"price_per_share"`
		MaxAvailable  *big.Int       `json:"max_available_shares"`
		Unlimited     bool           `json:"deposit_limit_unlimited"`
	}](t, rec)
	assert.Equal(t, "750", body.MaxAvailable.String())
}

func TestHistoryWithoutStores(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	assert.Equal(t, http.StatusNotFound, api.get("/api/reports").Code)
	assert.Equal(t, http.StatusNotFound, api.get("/api/audit").Code)
	assert.Equal(t, http.StatusNotFound, api.get("/api/archives").Code)
}

func TestAPIKey(t *testing.T) {
	api := newTestAPI(t, Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, api.get("/api/health").Code)
	assert.Equal(t, http.StatusUnauthorized, api.get("/api/vault").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/vault", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, api.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/vault", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)
}

type denyAfter struct{ n int }

func (d *denyAfter) Allow(context.Context, string, int, time.Duration) (bool, int, error) {
	d.n--
	return d.n >= 0, max(d.n, 0), nil
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, Config{RateLimit: 10}, &denyAfter{n: 2})
	rec := api.get("/api/vault")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, api.get("/api/vault").Code)
	rec = api.get("/api/vault")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

// eventLog keeps published events in memory with sequential IDs.
type eventLog struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

func (l *eventLog) Publish(_ context.Context, _ common.Address, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := fmt.Sprintf("%d-0", len(l.records)+1)
	l.records = append(l.records, domain.EventRecord{ID: id, Event: payload})
	return id, nil
}

func (l *eventLog) Subscribe(ctx context.Context, _ common.Address) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (l *eventLog) Since(_ context.Context, _ common.Address, afterID string, count int) ([]domain.EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if afterID != "" {
		start = -1
		for i, rec := range l.records {
			if rec.ID == afterID {
				start = i + 1
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("event id %q: %w", afterID, domain.ErrInvalidParam)
		}
	}
	end := min(start+count, len(l.records))
	return append([]domain.EventRecord(nil), l.records[start:end]...), nil
}

func (l *eventLog) Latest(_ context.Context, _ common.Address, count int) ([]domain.EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := max(len(l.records)-count, 0)
	return append([]domain.EventRecord(nil), l.records[start:]...), nil
}

type eventsPage struct {
	Events []struct {
		ID    string `json:"id"`
		Event struct {
			Kind domain.EventKind `json:"kind"`
		} `json:"event"`
	} `json:"events"`
	Next string `json:"next"`
}

func TestListEvents(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	rec := api.get("/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[eventsPage](t, rec)
	assert.Empty(t, empty.Events)
	assert.Equal(t, "", empty.Next)

	api.tok.Mint(api.user.Address(), big.NewInt(1000))
	rec = api.signed(api.user, http.MethodPost, "/api/deposit", map[string]string{"amount": "600"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.signed(api.user, http.MethodPost, "/api/withdraw", map[string]string{"shares": "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.get("/api/events?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[eventsPage](t, rec)
	require.Len(t, page.Events, 1)
	assert.Equal(t, domain.EventWithdraw, page.Events[0].Event.Kind)

	rec = api.get("/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[eventsPage](t, rec)
	require.Len(t, all.Events, 2)
	assert.Equal(t, domain.EventDeposit, all.Events[0].Event.Kind)
	assert.Equal(t, all.Events[1].ID, all.Next)

	rec = api.get("/api/events?after=" + all.Events[0].ID)
	require.Equal(t, http.StatusOK, rec.Code)
	rest := decode[eventsPage](t, rec)
	require.Len(t, rest.Events, 1)
	assert.Equal(t, domain.EventWithdraw, rest.Events[0].Event.Kind)

	rec = api.get("/api/events?after=" + all.Next)
	require.Equal(t, http.StatusOK, rec.Code)
	tail := decode[eventsPage](t, rec)
	assert.Empty(t, tail.Events)
	assert.Equal(t, all.Next, tail.Next)

	assert.Equal(t, http.StatusBadRequest, api.get("/api/events?after=nope").Code)
}

func TestReadOnlyHasNoMutations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snaps := handler.StoredSnapshots{Vault: common.HexToAddress("0x01"), Logger: logger}
	h := NewHandler(Config{}, Handlers{
		Health:   handler.NewHealthHandler("readonly", nil, logger),
		Vault:    handler.NewVaultHandler(snaps, logger),
		Strategy: handler.NewStrategyHandler(nil, nil, snaps, logger),
		History:  handler.NewHistoryHandler(handler.StoredHistory{}, handler.BusEvents{}, nil, logger),
	}, Deps{}, nil, logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deposit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vault", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
