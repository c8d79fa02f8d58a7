package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/amlstream/internal/cases"
	"github.com/Aidin1998/amlstream/internal/metrics"
	"github.com/Aidin1998/amlstream/internal/streaming"
	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
)

type stubProcessor struct {
	snapshots map[string]models.RiskMetrics
	highRisk  []models.HighRiskEntry
	storeErr  error
	batches   [][]models.Transaction
}

func (p *stubProcessor) ProcessTransaction(_ context.Context, txn models.Transaction) *models.Result {
	if txn.AccountID == "" {
		return &models.Result{TransactionID: txn.ID, Status: models.StatusFailed, Error: "[validation] account_id is required"}
	}
	return &models.Result{TransactionID: txn.ID, AccountID: txn.AccountID, Status: models.StatusProcessed, RiskScore: 15}
}

func (p *stubProcessor) ProcessBatch(_ context.Context, txns []models.Transaction) *streaming.BatchResult {
	p.batches = append(p.batches, txns)
	out := &streaming.BatchResult{Results: map[string]*models.Result{}, Patterns: map[string][]models.PatternMatch{}}
	for _, txn := range txns {
		out.Results[txn.ID] = &models.Result{TransactionID: txn.ID, Status: models.StatusProcessed}
	}
	return out
}

func (p *stubProcessor) RiskSnapshot(_ context.Context, accountID string) (models.RiskMetrics, bool, error) {
	if p.storeErr != nil {
		return models.RiskMetrics{}, false, p.storeErr
	}
	m, ok := p.snapshots[accountID]
	return m, ok, nil
}

func (p *stubProcessor) HighRiskAccounts(context.Context) ([]models.HighRiskEntry, error) {
	return p.highRisk, p.storeErr
}

func newTestServer(t *testing.T, proc Processor, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(zaptest.NewLogger(t), proc, opts).Router()
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	rec := do(newTestServer(t, &stubProcessor{}, Options{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ProcessTransaction(t *testing.T) {
	router := newTestServer(t, &stubProcessor{}, Options{})

	rec := do(router, http.MethodPost, "/v1/transactions",
		`{"id":"t1","account_id":"acc-1","amount":"9200","type":"deposit","timestamp":"2023-11-14T22:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "t1", result.TransactionID)
	assert.Equal(t, models.StatusProcessed, result.Status)
	assert.Equal(t, 15.0, result.RiskScore)
}

func TestServer_ProcessTransactionErrors(t *testing.T) {
	router := newTestServer(t, &stubProcessor{}, Options{})

	rec := do(router, http.MethodPost, "/v1/transactions", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/v1/transactions", `{"id":"t2","amount":"1","timestamp":"2023-11-14T22:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "account_id is required")
}

func TestServer_Batch(t *testing.T) {
	proc := &stubProcessor{}
	router := newTestServer(t, proc, Options{MaxBatchSize: 2})

	rec := do(router, http.MethodPost, "/v1/transactions/batch", `[
		{"id":"a","account_id":"x","amount":"1","timestamp":"2023-11-14T22:00:00Z"},
		{"id":"b","account_id":"y","amount":"2","timestamp":"2023-11-14T22:01:00Z"}
	]`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.batches, 1)
	assert.Len(t, proc.batches[0], 2)

	var out streaming.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Results, 2)

	var big bytes.Buffer
	big.WriteString("[")
	for i := 0; i < 3; i++ {
		if i > 0 {
			big.WriteString(",")
		}
		big.WriteString(`{"id":"z","account_id":"x","amount":"1"}`)
	}
	big.WriteString("]")
	rec = do(router, http.MethodPost, "/v1/transactions/batch", big.String())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Len(t, proc.batches, 1)
}

func TestServer_RiskSnapshot(t *testing.T) {
	proc := &stubProcessor{snapshots: map[string]models.RiskMetrics{
		"acc-1": {AccountID: "acc-1", TransactionCount: 5, RiskScore: 80, LastUpdated: time.Unix(1700000000, 0).UTC()},
	}}
	router := newTestServer(t, proc, Options{})

	rec := do(router, http.MethodGet, "/v1/accounts/acc-1/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m models.RiskMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, int64(5), m.TransactionCount)
	assert.Equal(t, 80.0, m.RiskScore)

	rec = do(router, http.MethodGet, "/v1/accounts/nobody/risk", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StoreUnavailable(t *testing.T) {
	router := newTestServer(t, &stubProcessor{storeErr: errors.New("redis down")}, Options{})

	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/v1/accounts/a/risk", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/v1/high-risk", "").Code)
}

func TestServer_HighRisk(t *testing.T) {
	proc := &stubProcessor{highRisk: []models.HighRiskEntry{
		{AccountID: "b", RiskScore: 90},
		{AccountID: "a", RiskScore: 80},
	}}
	rec := do(newTestServer(t, proc, Options{}), http.MethodGet, "/v1/high-risk", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Accounts []models.HighRiskEntry `json:"accounts"`
		Count    int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "b", body.Accounts[0].AccountID)
}

func TestServer_MetricsEndpointAndMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := newTestServer(t, &stubProcessor{}, Options{Gatherer: reg, Metrics: metrics.New(reg)})

	do(router, http.MethodGet, "/healthz", "")
	do(router, http.MethodGet, "/does-not-exist", "")

	count, err := testutil.GatherAndCount(reg, "amlstream_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec := do(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `amlstream_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), `path="unmatched",status="404"`)
}

type stubCaseService struct {
	records map[string]*cases.Case
	err     error
}

func (s *stubCaseService) Open(_ context.Context, c *cases.Case) error {
	if c.OwnerID == "" {
		return apperrors.Validation.Explain("owner_id is required")
	}
	if s.err != nil {
		return s.err
	}
	c.ID = "case-1"
	if c.Status == "" {
		c.Status = cases.StatusOpen
	}
	s.records[c.ID] = c
	return nil
}

func (s *stubCaseService) UpdateStatus(_ context.Context, id, status string) (*cases.Case, error) {
	if !cases.ValidStatus(status) {
		return nil, apperrors.Validation.Explain("unknown case status %q", status)
	}
	c, ok := s.records[id]
	if !ok {
		return nil, cases.ErrCaseNotFound
	}
	c.Status = status
	return c, nil
}

func TestServer_CaseRoutes(t *testing.T) {
	svc := &stubCaseService{records: map[string]*cases.Case{}}
	router := newTestServer(t, &stubProcessor{}, Options{Cases: svc})

	rec := do(router, http.MethodPost, "/v1/cases", `{"owner_id":"acc-1","title":"structuring review"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened cases.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	assert.Equal(t, "case-1", opened.ID)
	assert.Equal(t, "acc-1", opened.OwnerID)
	assert.Equal(t, cases.StatusOpen, opened.Status)

	rec = do(router, http.MethodPatch, "/v1/cases/case-1", `{"status":"closed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var closed cases.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closed))
	assert.Equal(t, cases.StatusClosed, closed.Status)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/v1/cases", `{"title":"no owner"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/v1/cases", `{"owner_id":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPatch, "/v1/cases/case-1", `{"status":"archived"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPatch, "/v1/cases/missing", `{"status":"closed"}`).Code)
}

func TestServer_CaseStoreFailure(t *testing.T) {
	svc := &stubCaseService{records: map[string]*cases.Case{}, err: errors.New("db down")}
	router := newTestServer(t, &stubProcessor{}, Options{Cases: svc})

	rec := do(router, http.MethodPost, "/v1/cases", `{"owner_id":"acc-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestServer_CaseRoutesOptional(t *testing.T) {
	router := newTestServer(t, &stubProcessor{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/v1/cases", `{"owner_id":"acc-1"}`).Code)
}
