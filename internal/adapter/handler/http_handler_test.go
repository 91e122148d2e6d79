package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	h := NewHTTPHandler(f.orders, f.poller, f.poison, f.cfg.Poll, zerolog.Nop())
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateOrder_AcceptedAndVisible(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)

	resp := do(t, http.MethodPost, srv.URL+"/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":3}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[CreateOrderHTTPResponse](t, resp)
	assert.True(t, body.Visible)
	assert.Equal(t, "59.97", body.Order.TotalAmount.StringFixed(2))
	assert.Equal(t, "Submitted", body.Order.Status)
	assert.Equal(t, "/orders/"+body.Order.OrderID, resp.Header.Get("Location"))
	assert.Equal(t, 2, f.stock(t))

	get := do(t, http.MethodGet, srv.URL+"/orders/"+body.Order.OrderID, "", nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	stored := decode[OrderResponse](t, get)
	assert.Equal(t, 3, stored.Quantity)
	assert.Equal(t, 1, stored.Version)
}

func TestCreateOrder_SkipWait(t *testing.T) {
	f := newFixture(t)
	f.publisher.drop = true
	srv := newTestServer(t, f)

	resp := do(t, http.MethodPost, srv.URL+"/orders?wait=false", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, decode[CreateOrderHTTPResponse](t, resp).Visible)
}

func TestCreateOrder_NotYetVisibleIsStillCreated(t *testing.T) {
	f := newFixture(t)
	f.publisher.drop = true
	srv := newTestServer(t, f)

	resp := do(t, http.MethodPost, srv.URL+"/orders?attempts=2&delay=1ms", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, decode[CreateOrderHTTPResponse](t, resp).Visible)
	assert.Equal(t, 4, f.stock(t))
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		body   string
		status int
	}{
		{"insufficient stock", "/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":10}`, http.StatusBadRequest},
		{"zero quantity", "/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":0}`, http.StatusBadRequest},
		{"unknown customer", "/orders", `{"CustomerId":"zz","ProductId":"p1","Quantity":1}`, http.StatusBadRequest},
		{"unknown product", "/orders", `{"CustomerId":"c1","ProductId":"zz","Quantity":1}`, http.StatusBadRequest},
		{"malformed body", "/orders", `{"CustomerId":`, http.StatusBadRequest},
		{"bad wait flag", "/orders?wait=maybe", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, http.StatusBadRequest},
		{"wait beyond ceiling", "/orders?attempts=2&delay=2s", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, http.StatusBadRequest},
		{"overflowing wait", "/orders?attempts=1000000000&delay=24h", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			srv := newTestServer(t, f)

			resp := do(t, http.MethodPost, srv.URL+tt.url, tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			errBody := decode[ErrorResponse](t, resp)
			assert.Equal(t, http.StatusText(tt.status), errBody.Error)
			assert.NotEmpty(t, errBody.Message)
			assert.Equal(t, 5, f.stock(t))
		})
	}
}

func TestCreateOrder_TransientFailureIs503(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = domain.Transient(assert.AnError)
	srv := newTestServer(t, f)

	resp := do(t, http.MethodPost, srv.URL+"/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	header := http.Header{"Idempotency-Key": []string{"retry-me"}}
	body := `{"CustomerId":"c1","ProductId":"p1","Quantity":2}`

	first := decode[CreateOrderHTTPResponse](t, do(t, http.MethodPost, srv.URL+"/orders", body, header))
	second := decode[CreateOrderHTTPResponse](t, do(t, http.MethodPost, srv.URL+"/orders", body, header))

	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, 3, f.stock(t))
}

func TestCreateOrder_IdempotencyKeyWithDifferentBody(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	header := http.Header{"Idempotency-Key": []string{"retry-me"}}

	first := do(t, http.MethodPost, srv.URL+"/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, header)
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := do(t, http.MethodPost, srv.URL+"/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":4}`, header)
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
	assert.Equal(t, 4, f.stock(t))
}

func TestGetOrder_NotFound(t *testing.T) {
	srv := newTestServer(t, newFixture(t))

	resp := do(t, http.MethodGet, srv.URL+"/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateStatus_AllVerbs(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	created := decode[CreateOrderHTTPResponse](t, do(t, http.MethodPost, srv.URL+"/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, nil))
	url := srv.URL + "/orders/" + created.Order.OrderID + "/status"

	for i, step := range []struct{ method, status string }{
		{http.MethodPatch, "Processing"},
		{http.MethodPut, "Shipped"},
		{http.MethodPost, "Delivered"},
	} {
		resp := do(t, step.method, url, `{"Status":"`+step.status+`","UpdatedBy":"ops"}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, step.method)
		updated := decode[OrderResponse](t, resp)
		assert.Equal(t, step.status, updated.Status)
		assert.Equal(t, i+2, updated.Version)
	}

	missing := do(t, http.MethodPatch, srv.URL+"/orders/nope/status", `{"Status":"Shipped"}`, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	empty := do(t, http.MethodPatch, url, `{"Status":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestDeleteAndListOrders(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	created := decode[CreateOrderHTTPResponse](t, do(t, http.MethodPost, srv.URL+"/orders", `{"CustomerId":"c1","ProductId":"p1","Quantity":1}`, nil))

	list := decode[[]OrderResponse](t, do(t, http.MethodGet, srv.URL+"/orders?limit=10", "", nil))
	assert.Len(t, list, 1)

	del := do(t, http.MethodDelete, srv.URL+"/orders/"+created.Order.OrderID, "", nil)
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	again := do(t, http.MethodDelete, srv.URL+"/orders/"+created.Order.OrderID, "", nil)
	assert.Equal(t, http.StatusNoContent, again.StatusCode)

	list = decode[[]OrderResponse](t, do(t, http.MethodGet, srv.URL+"/orders", "", nil))
	assert.Empty(t, list)

	bad := do(t, http.MethodGet, srv.URL+"/orders?limit=many", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestOperationalEndpoints(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	require.NoError(t, f.poison.Handle(t.Context(), "order-notifications", "materializer-1", "boom", []byte(`{}`)))

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "", nil).StatusCode)

	metricsResp := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "poison_messages_total")

	poison := decode[[]domain.PoisonEntry](t, do(t, http.MethodGet, srv.URL+"/admin/poison", "", nil))
	require.Len(t, poison, 1)
	assert.Equal(t, "boom", poison[0].Reason)
}
