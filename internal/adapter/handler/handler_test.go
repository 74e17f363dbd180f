package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

type stubInventory struct {
	items []domain.InventoryItem
	err   error
}

func (s stubInventory) ListAll(context.Context) ([]domain.InventoryItem, error) {
	return s.items, s.err
}

type stubValidator struct {
	err   error
	calls int
}

func (s *stubValidator) ValidateStock(context.Context) (int, error) {
	s.calls++
	return 0, s.err
}

func newTestMux(inv InventoryLister, v StockValidator) *http.ServeMux {
	mux := http.NewServeMux()
	NewHTTPHandler(inv, v, nil).Register(mux)
	return mux
}

func TestListInventory(t *testing.T) {
	mux := newTestMux(stubInventory{items: []domain.InventoryItem{
		{ID: 42, Name: "widget", Stock: 5},
	}}, &stubValidator{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []domain.InventoryItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []domain.InventoryItem{{ID: 42, Name: "widget", Stock: 5}}, got)
}

func TestListInventory_StoreError(t *testing.T) {
	mux := newTestMux(stubInventory{err: errors.New("db down")}, &stubValidator{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestValidateStock(t *testing.T) {
	v := &stubValidator{}
	mux := newTestMux(stubInventory{}, v)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/stock", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Stock Validated", rec.Body.String())
	assert.Equal(t, 1, v.calls)
}

func TestValidateStock_Failure(t *testing.T) {
	mux := newTestMux(stubInventory{}, &stubValidator{err: errors.New("broker down")})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/stock", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestListInventory_MethodNotAllowed(t *testing.T) {
	mux := newTestMux(stubInventory{}, &stubValidator{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func dialBufconn(t *testing.T, inv InventoryLister) *InventoryQueryClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterInventoryQueryServer(srv, NewGRPCHandler(inv, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewInventoryQueryClient(conn)
}

func TestGRPCListInventory(t *testing.T) {
	client := dialBufconn(t, stubInventory{items: []domain.InventoryItem{
		{ID: 1, Name: "widget", Stock: 3},
		{ID: 2, Name: "gadget", Stock: 0},
	}})

	resp, err := client.ListInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.GetValues(), 2)

	first := resp.GetValues()[0].GetStructValue().GetFields()
	assert.Equal(t, 1.0, first["id"].GetNumberValue())
	assert.Equal(t, "widget", first["name"].GetStringValue())
	assert.Equal(t, 3.0, first["stock"].GetNumberValue())
}

func TestGRPCListInventory_Error(t *testing.T) {
	client := dialBufconn(t, stubInventory{err: errors.New("db down")})

	_, err := client.ListInventory(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}
