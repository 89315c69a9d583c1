package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"colonyledger/internal/domain"
	"colonyledger/internal/ledger"
	"colonyledger/internal/query"
	"colonyledger/internal/reconcile"
	"colonyledger/internal/reconcile/reconciletest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	colony = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token  = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type chains map[common.Address]*reconciletest.Chain

func (c chains) ColonyClient(_ context.Context, address common.Address) (reconcile.ChainClient, error) {
	chain, ok := c[address]
	if !ok {
		return nil, errors.New("unknown colony")
	}
	return chain, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

type fixture struct {
	server  *httptest.Server
	chain   *reconciletest.Chain
	session *ledger.Session
}

func newFixture(t *testing.T, policy reconcile.JoinPolicy, checks map[string]Pinger) fixture {
	t.Helper()
	chain := reconciletest.New(colony)
	session := ledger.NewSession()
	names, err := query.ParseStaticNames(map[string]string{"meta": colony.Hex()})
	require.NoError(t, err)
	reconciler := reconcile.New(reconcile.Options{Policy: policy})
	facade, err := query.NewFacade(session, chains{colony: chain}, reconciler, query.WithNames(names))
	require.NoError(t, err)
	api, err := NewServer(facade, session, checks, nil, BuildInfo{Version: "test"})
	require.NoError(t, err)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return fixture{server: server, chain: chain, session: session}
}

func get(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, body string, dst any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

type transfersResponse struct {
	Data    []domain.Transfer `json:"data"`
	Partial bool              `json:"partial"`
	Failed  int               `json:"failed"`
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)
	assert.Equal(t, http.StatusOK, get(t, f.server.URL+"/healthz", nil))
	assert.Equal(t, http.StatusOK, get(t, f.server.URL+"/readyz", nil))

	var info BuildInfo
	assert.Equal(t, http.StatusOK, get(t, f.server.URL+"/version", &info))
	assert.Equal(t, "test", info.Version)

	degraded := newFixture(t, reconcile.FailFast, map[string]Pinger{"db": failingPinger{}})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, degraded.server.URL+"/readyz", nil))
}

func TestServer_Transfers(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)
	f.chain.FundsClaimed(token, 5, 100, reconciletest.TxHash("a"))
	f.chain.FundsClaimed(token, 0, 101, reconciletest.TxHash("b"))

	var body transfersResponse
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/colonies/"+colony.Hex()+"/transfers", &body))
	assert.False(t, body.Partial)
	require.Len(t, body.Data, 1)
	assert.Equal(t, int64(5), body.Data[0].Amount.Int64())

	assert.Equal(t, http.StatusBadRequest, get(t, f.server.URL+"/colonies/not-an-address/transfers", nil))
}

func TestServer_PartialAndFailedViews(t *testing.T) {
	partial := newFixture(t, reconcile.CollectAll, nil)
	partial.chain.FundsClaimed(token, 5, 100, reconciletest.TxHash("a"))
	partial.chain.PayoutClaimed(3, token, 1, 101, reconciletest.TxHash("b"))
	partial.chain.Fail("FundingPot", errors.New("pot unavailable"))

	var body transfersResponse
	require.Equal(t, http.StatusOK, get(t, partial.server.URL+"/colonies/"+colony.Hex()+"/transfers", &body))
	assert.True(t, body.Partial)
	assert.Equal(t, 1, body.Failed)
	assert.Len(t, body.Data, 1)

	failed := newFixture(t, reconcile.FailFast, nil)
	failed.chain.Fail("FetchLogs:"+reconcile.EventColonyFundsClaimed, errors.New("rpc down"))
	assert.Equal(t, http.StatusBadGateway, get(t, failed.server.URL+"/colonies/"+colony.Hex()+"/transfers", nil))
}

func TestServer_EventsAndUnclaimed(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)
	f.chain.Event("DomainAdded", map[string]any{"domainId": "2"}, 10, reconciletest.TxHash("d"))
	f.chain.TokenTransfer(token, common.HexToAddress("0xbb"), 9, 20, reconciletest.TxHash("t"))

	var events struct {
		Data []domain.NetworkEvent `json:"data"`
	}
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/colonies/"+colony.Hex()+"/events", &events))
	require.Len(t, events.Data, 1)
	assert.Equal(t, "DomainAdded", events.Data[0].Name)

	var unclaimed transfersResponse
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/colonies/"+colony.Hex()+"/unclaimed-transfers", &unclaimed))
	require.Len(t, unclaimed.Data, 1)
	assert.Equal(t, token, unclaimed.Data[0].Token)
}

func TestServer_Transaction(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)
	hash := reconciletest.TxHash("mined")
	f.chain.Mined(hash, 100, types.ReceiptStatusSuccessful)

	var view domain.TransactionView
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/colonies/"+colony.Hex()+"/transactions/"+hash.Hex(), &view))
	assert.Equal(t, domain.TxSuccessful, view.Status)

	missing := reconciletest.TxHash("missing")
	assert.Equal(t, http.StatusNotFound, get(t, f.server.URL+"/colonies/"+colony.Hex()+"/transactions/"+missing.Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, get(t, f.server.URL+"/colonies/"+colony.Hex()+"/transactions/0x12", nil))
}

func TestServer_Names(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)

	var resolution query.Resolution
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/names/meta", &resolution))
	assert.True(t, resolution.Found)
	assert.Equal(t, colony, resolution.Address)

	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/names/nobody", &resolution))
	assert.False(t, resolution.Found)
}

func TestServer_Commands(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)
	url := f.server.URL + "/ledger/commands"

	assert.Equal(t, http.StatusOK, post(t, url, `{"type":"TRANSACTION_CREATED","payload":{"id":"a","identifier":"x"}}`, nil))
	assert.Equal(t, http.StatusConflict, post(t, url, `{"type":"TRANSACTION_CREATED","payload":{"id":"a"}}`, nil))
	assert.Equal(t, http.StatusNotFound, post(t, url, `{"type":"TRANSACTION_SENT","id":"nope","payload":{"hash":"0x1"}}`, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, url, `{"type":"TRANSACTION_EXPLODED"}`, nil))
	assert.Equal(t, http.StatusConflict, post(t, url, `{"type":"TRANSACTION_SENT","id":"a","payload":{"hash":"0xabc"}}`, nil))
	assert.Equal(t, http.StatusOK, post(t, url, `{"type":"TRANSACTION_ADD_PROPERTIES","id":"a","payload":{"properties":{}}}`, nil))
	assert.Equal(t, http.StatusOK, post(t, url, `{"type":"TRANSACTION_SENT","id":"a","payload":{"hash":"0xabc"}}`, nil))
	assert.Equal(t, http.StatusOK, post(t, url, `{"type":"GAS_PRICES_UPDATE","payload":{"prices":{"network":"4"}}}`, nil))

	var records []domain.TransactionRecord
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/ledger/transactions?identifier=x&status=pending", &records))
	require.Len(t, records, 1)
	assert.Equal(t, "0xabc", records[0].Hash)

	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/ledger/transactions?status=created", &records))
	assert.Empty(t, records)
	assert.Equal(t, http.StatusBadRequest, get(t, f.server.URL+"/ledger/transactions?status=lost", nil))

	var prices domain.GasPrices
	require.Equal(t, http.StatusOK, get(t, f.server.URL+"/ledger/gas-prices", &prices))
	assert.Equal(t, "4", prices["network"])

	f.session.Close()
	assert.Equal(t, http.StatusServiceUnavailable, post(t, url, `{"type":"TRANSACTION_CANCEL","id":"a"}`, nil))
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t, reconcile.FailFast, nil)
	post(t, f.server.URL+"/ledger/commands", `{"type":"TRANSACTION_CREATED","payload":{"id":"a"}}`, nil)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `colonyledger_ledger_commands_total{outcome="applied",type="TRANSACTION_CREATED"} 1`)
	assert.Contains(t, buf.String(), "colonyledger_http_requests_total")
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, ledger.NewSession(), nil, nil, BuildInfo{})
	assert.Error(t, err)
}
