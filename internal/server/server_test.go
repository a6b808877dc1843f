package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	insightdomain "github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/insight/events"
	"github.com/smallbiznis/insightdesk/internal/observability"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// -- Mocks --

type insightServiceMock struct {
	mock.Mock
}

func (m *insightServiceMock) GetStats(ctx context.Context) (insightdomain.StatsView, error) {
	args := m.Called(ctx)
	return args.Get(0).(insightdomain.StatsView), args.Error(1)
}

func (m *insightServiceMock) RefreshStats(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *insightServiceMock) QueryInsights(ctx context.Context, spec insightdomain.FilterSpec) (insightdomain.ResultPage, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(insightdomain.ResultPage), args.Error(1)
}

func (m *insightServiceMock) GetDetail(ctx context.Context, id string) (*insightdomain.InsightResponse, error) {
	args := m.Called(ctx, id)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*insightdomain.InsightResponse), args.Error(1)
}

func (m *insightServiceMock) CreateInsight(ctx context.Context, req insightdomain.CreateRequest) (*insightdomain.CreateResponse, error) {
	args := m.Called(ctx, req)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*insightdomain.CreateResponse), args.Error(1)
}

func (m *insightServiceMock) DeleteInsight(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *insightServiceMock) RegenerateInsight(ctx context.Context, req insightdomain.RegenerateRequest) (*insightdomain.InsightResponse, error) {
	args := m.Called(ctx, req)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*insightdomain.InsightResponse), args.Error(1)
}

func (m *insightServiceMock) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	args := m.Called(ctx, before, limit)
	return args.Int(0), args.Error(1)
}

type testServer struct {
	srv   *Server
	svc   *insightServiceMock
	hub   *events.Hub
	quota *ratelimit.DailyQuota
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := &insightServiceMock{}
	hub := events.NewHub()
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	quota := ratelimit.NewDailyQuota(nil, 2, time.UTC, clk, zap.NewNop())

	tuning := config.DefaultInsightTuning()
	tuning.DefaultPageSize = 25

	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}),
		Cfg:        config.Config{Insight: config.InsightConfig{Location: "UTC"}},
		Log:        zap.NewNop(),
		InsightSvc: svc,
		Quota:      quota,
		Changes:    hub,
		Tuning:     config.NewStaticInsightTuningHolder(tuning),
	})
	srv.RegisterAdminRoutes()

	return &testServer{srv: srv, svc: svc, hub: hub, quota: quota}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestListInsightsTranslatesQueryParams(t *testing.T) {
	ts := newTestServer(t)

	ts.svc.On("QueryInsights", mock.Anything, mock.MatchedBy(func(spec insightdomain.FilterSpec) bool {
		return spec.Search == "gold" &&
			spec.Risk == "high" &&
			spec.Page == 2 &&
			spec.PageSize == 25 &&
			spec.ConfidenceMin != nil && *spec.ConfidenceMin == 40 &&
			spec.DateFrom != nil && spec.DateFrom.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) &&
			spec.DateTo != nil && spec.DateTo.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)) &&
			spec.SortBy == "confidence" && spec.SortOrder == "asc"
	})).Return(insightdomain.ResultPage{Generation: 7}, nil).Once()

	rec := ts.do(http.MethodGet, "/admin/insights?search=gold&risk_level=high&page=2&confidence_min=40&date_from=2024-06-01&date_to=2024-06-02&sort_by=confidence&sort_order=asc", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data insightdomain.ResultPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(7), resp.Data.Generation)
	ts.svc.AssertExpectations(t)
}

func TestListInsightsRejectsMalformedNumbers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/admin/insights?page_size=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "page_size", payload.Errors[0].Field)
	ts.svc.AssertNotCalled(t, "QueryInsights", mock.Anything, mock.Anything)
}

func TestFilterErrorMapsToBadRequestWithField(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.On("QueryInsights", mock.Anything, mock.Anything).
		Return(insightdomain.ResultPage{}, insightdomain.NewFilterError("sort_by", "unsupported sort field")).Once()

	rec := ts.do(http.MethodGet, "/admin/insights?sort_by=summary", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "sort_by", payload.Errors[0].Field)
}

func TestStoreErrorsMapToServiceStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: insightdomain.ErrNotFound, status: http.StatusNotFound},
		{name: "unavailable", err: insightdomain.StoreError("get detail", context.Canceled), status: http.StatusServiceUnavailable},
		{name: "timeout", err: insightdomain.StoreError("get detail", context.DeadlineExceeded), status: http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.svc.On("GetDetail", mock.Anything, "42").Return(nil, tc.err).Once()

			rec := ts.do(http.MethodGet, "/admin/insights/42", "")
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestCreateInsight(t *testing.T) {
	ts := newTestServer(t)
	expires := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	ts.svc.On("CreateInsight", mock.Anything, mock.MatchedBy(func(req insightdomain.CreateRequest) bool {
		return req.UserID == "u-1" && req.Service == "prophet" && req.Confidence == 0.8
	})).Return(&insightdomain.CreateResponse{ID: "99", ExpiresAt: expires}, nil).Once()

	rec := ts.do(http.MethodPost, "/admin/insights", `{"user_id":" u-1 ","service":"prophet","confidence":0.8}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":"99"`)
}

func TestCreateInsightRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/insights", `{"user_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.svc.AssertNotCalled(t, "CreateInsight", mock.Anything, mock.Anything)
}

func TestDeleteAndRegenerate(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.On("DeleteInsight", mock.Anything, "42").Return(nil).Once()
	ts.svc.On("RegenerateInsight", mock.Anything, insightdomain.RegenerateRequest{ID: "43"}).
		Return(&insightdomain.InsightResponse{ID: "43", Status: insightdomain.StatusActive}, nil).Once()

	rec := ts.do(http.MethodDelete, "/admin/insights/42", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/insights/43/regenerate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"active"`)
	ts.svc.AssertExpectations(t)
}

func TestStatsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.On("GetStats", mock.Anything).Return(insightdomain.StatsView{
		Snapshot: insightdomain.StatsSnapshot{TotalInsights: 3, Generation: 2},
		Stale:    true,
	}, nil).Once()
	ts.svc.On("RefreshStats", mock.Anything).Return(nil).Once()

	rec := ts.do(http.MethodGet, "/admin/insights/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_insights":3`)
	assert.Contains(t, rec.Body.String(), `"stale":true`)

	rec = ts.do(http.MethodPost, "/admin/insights/stats/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	ts.svc.AssertExpectations(t)
}

func TestUsageEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, _, err := ts.quota.Consume(ctx, "u-1")
	require.NoError(t, err)
	_, _, err = ts.quota.Consume(ctx, "u-1")
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/admin/usage/u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data ratelimit.Usage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Data.Current)
	assert.True(t, resp.Data.Exceeded)

	rec = ts.do(http.MethodPost, "/admin/usage/u-1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Data.Current)
	assert.Equal(t, int64(2), resp.Data.Remaining)
}

func TestStreamInsightChanges(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/admin/insights/changes", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 2000\n", line)

	event := events.NewEvent(insightdomain.ChangeCreated, "42", events.Origin(1), time.Now())
	// The subscription is registered before the retry line is flushed.
	ts.hub.Publish(events.TopicInsights, event)

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	var got insightdomain.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, insightdomain.ChangeCreated, got.Kind)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
