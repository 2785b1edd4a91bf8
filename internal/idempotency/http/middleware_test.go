package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidywork/tidywork/internal/httputil"
	"github.com/tidywork/tidywork/internal/idempotency/domain"
	"github.com/tidywork/tidywork/internal/idempotency/usecase"
)

type memoryRepo struct {
	records       map[string]*domain.Record
	completeErrs  []error
	completeCalls int
}

func newFakeRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]*domain.Record)}
}

func tripleKey(r *domain.Record) string {
	return r.TenantID.String() + "|" + r.Key + "|" + r.Operation
}

func (f *memoryRepo) Claim(_ context.Context, record *domain.Record) (*domain.Record, bool, error) {
	if existing, ok := f.records[tripleKey(record)]; ok {
		return existing, false, nil
	}
	copied := *record
	f.records[tripleKey(record)] = &copied
	return &copied, true, nil
}

func (f *memoryRepo) Complete(_ context.Context, id uuid.UUID, status int, body string) error {
	i := f.completeCalls
	f.completeCalls++
	if i < len(f.completeErrs) && f.completeErrs[i] != nil {
		return f.completeErrs[i]
	}
	for _, record := range f.records {
		if record.ID == id {
			record.Status = domain.StatusCompleted
			record.ResponseStatus = &status
			record.ResponseBody = &body
		}
	}
	return nil
}

func (f *memoryRepo) Release(_ context.Context, id uuid.UUID) error {
	for key, record := range f.records {
		if record.ID == id && record.Status == domain.StatusInProgress {
			delete(f.records, key)
		}
	}
	return nil
}

func newRouter(handlerCalls *int) (*gin.Engine, uuid.UUID) {
	gin.SetMode(gin.TestMode)
	tenantID := uuid.Must(uuid.NewV7())

	repo := newFakeRepo()
	uc := usecase.NewIdempotencyUseCase(repo, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		httputil.SetTenantID(c, tenantID)
	})
	router.POST("/v1/checkout", Middleware(uc, "checkout.create", nil), func(c *gin.Context) {
		*handlerCalls++
		c.JSON(http.StatusCreated, gin.H{"redirect_url": "https://pay.example.com/s1"})
	})
	router.POST("/v1/flaky", Middleware(uc, "flaky.create", nil), func(c *gin.Context) {
		*handlerCalls++
		if *handlerCalls == 1 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try again"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	return router, tenantID
}

func doRequest(router *gin.Engine, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(KeyHeader, key)
	}
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestMiddleware(t *testing.T) {
	t.Run("missing key is rejected", func(t *testing.T) {
		calls := 0
		router, _ := newRouter(&calls)

		resp := doRequest(router, "/v1/checkout", "", `{"booking_id":"b1"}`)

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		assert.Zero(t, calls)
	})

	t.Run("first request executes and caches", func(t *testing.T) {
		calls := 0
		router, _ := newRouter(&calls)

		resp := doRequest(router, "/v1/checkout", "k-1", `{"booking_id":"b1"}`)

		assert.Equal(t, http.StatusCreated, resp.Code)
		assert.Equal(t, 1, calls)
		assert.Empty(t, resp.Header().Get(ReplayedHeader))
	})

	t.Run("retry replays without re-executing", func(t *testing.T) {
		calls := 0
		router, _ := newRouter(&calls)

		first := doRequest(router, "/v1/checkout", "k-1", `{"booking_id":"b1"}`)
		second := doRequest(router, "/v1/checkout", "k-1", `{"booking_id":"b1"}`)

		assert.Equal(t, 1, calls)
		assert.Equal(t, first.Code, second.Code)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	})

	t.Run("key reuse with different body conflicts", func(t *testing.T) {
		calls := 0
		router, _ := newRouter(&calls)

		doRequest(router, "/v1/checkout", "k-1", `{"booking_id":"b1"}`)
		resp := doRequest(router, "/v1/checkout", "k-1", `{"booking_id":"b2"}`)

		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, 1, calls)
	})

	t.Run("failed result stores release the claim", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		tenantID := uuid.Must(uuid.NewV7())

		repo := newFakeRepo()
		repo.completeErrs = []error{assert.AnError}
		uc := usecase.NewIdempotencyUseCase(repo, nil)

		calls := 0
		router := gin.New()
		router.Use(func(c *gin.Context) {
			httputil.SetTenantID(c, tenantID)
		})
		router.POST("/v1/checkout", Middleware(uc, "checkout.create", nil), func(c *gin.Context) {
			calls++
			c.JSON(http.StatusCreated, gin.H{"ok": true})
		})

		first := doRequest(router, "/v1/checkout", "k-5", `{"booking_id":"b1"}`)
		require.Equal(t, http.StatusCreated, first.Code)

		// The claim was released when the store failed, so the retry
		// executes again instead of conflicting forever.
		second := doRequest(router, "/v1/checkout", "k-5", `{"booking_id":"b1"}`)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, 2, calls)
		assert.Empty(t, second.Header().Get(ReplayedHeader))
	})

	t.Run("server errors are not cached", func(t *testing.T) {
		calls := 0
		router, _ := newRouter(&calls)

		first := doRequest(router, "/v1/flaky", "k-9", `{"booking_id":"b1"}`)
		require.Equal(t, http.StatusServiceUnavailable, first.Code)

		second := doRequest(router, "/v1/flaky", "k-9", `{"booking_id":"b1"}`)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, 2, calls)
		assert.Empty(t, second.Header().Get(ReplayedHeader))
	})
}
