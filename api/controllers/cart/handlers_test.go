package cart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketpay-backend/api/middleware"
	internalcart "github.com/angelmondragon/marketpay-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

type stubCart struct {
	session  string
	added    internalcart.AddItemInput
	entryID  uuid.UUID
	quantity int
	cleared  bool
	err      error
}

func (s *stubCart) validated() *internalcart.ValidatedCart {
	return &internalcart.ValidatedCart{SessionID: s.session}
}

func (s *stubCart) GetValidatedCart(_ context.Context, sessionID string) (*internalcart.ValidatedCart, error) {
	s.session = sessionID
	if s.err != nil {
		return nil, s.err
	}
	return s.validated(), nil
}

func (s *stubCart) Add(_ context.Context, sessionID string, input internalcart.AddItemInput) (*internalcart.ValidatedCart, error) {
	s.session = sessionID
	s.added = input
	if s.err != nil {
		return nil, s.err
	}
	return s.validated(), nil
}

func (s *stubCart) UpdateQuantity(_ context.Context, sessionID string, entryID uuid.UUID, quantity int) (*internalcart.ValidatedCart, error) {
	s.session = sessionID
	s.entryID = entryID
	s.quantity = quantity
	if s.err != nil {
		return nil, s.err
	}
	return s.validated(), nil
}

func (s *stubCart) Remove(_ context.Context, sessionID string, entryID uuid.UUID) error {
	s.session = sessionID
	s.entryID = entryID
	return s.err
}

func (s *stubCart) Clear(_ context.Context, sessionID string) error {
	s.session = sessionID
	s.cleared = true
	return s.err
}

func (s *stubCart) Count(context.Context, string) (internalcart.Count, error) {
	return internalcart.Count{Entries: 2, Quantity: 5}, s.err
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Session(nil))
	r.Get("/cart", Get(svc, nil))
	r.Get("/cart/count", Count(svc, nil))
	r.Post("/cart/items", AddItem(svc, nil))
	r.Patch("/cart/items/{entryId}", UpdateQuantity(svc, nil))
	r.Delete("/cart/items/{entryId}", RemoveItem(svc, nil))
	r.Delete("/cart", Clear(svc, nil))
	return r
}

func serve(h http.Handler, method, target, session, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if session != "" {
		req.Header.Set("X-Session-Id", session)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestCartRequiresSession(t *testing.T) {
	svc := &stubCart{}
	resp := serve(newRouter(svc), http.MethodGet, "/cart", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, svc.session)
}

func TestGetCart(t *testing.T) {
	svc := &stubCart{}
	resp := serve(newRouter(svc), http.MethodGet, "/cart", "sess-1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "sess-1", svc.session)
	assert.Contains(t, resp.Body.String(), `"session_id":"sess-1"`)
}

func TestAddItem(t *testing.T) {
	svc := &stubCart{}
	productID := uuid.New()
	body := `{"product_id":"` + productID.String() + `","quantity":2,"selected_variant":{"name":"Bleu / L"}}`

	resp := serve(newRouter(svc), http.MethodPost, "/cart/items", "sess-1", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, productID, svc.added.ProductID)
	assert.Equal(t, 2, svc.added.Quantity)
	assert.Equal(t, types.VariantSelection{"name": "Bleu / L"}, svc.added.SelectedVariant)

	resp = serve(newRouter(svc), http.MethodPost, "/cart/items", "sess-1", `{"product_id":"`+productID.String()+`","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAddItemOutOfStock(t *testing.T) {
	svc := &stubCart{err: pkgerrors.New(pkgerrors.CodeInsufficientStock, "only 1 left")}
	body := `{"product_id":"` + uuid.NewString() + `","quantity":2}`

	resp := serve(newRouter(svc), http.MethodPost, "/cart/items", "sess-1", body)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "only 1 left")
}

func TestUpdateAndRemoveItem(t *testing.T) {
	svc := &stubCart{}
	entryID := uuid.New()

	resp := serve(newRouter(svc), http.MethodPatch, "/cart/items/"+entryID.String(), "sess-1", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, entryID, svc.entryID)
	assert.Equal(t, 4, svc.quantity)

	resp = serve(newRouter(svc), http.MethodDelete, "/cart/items/"+entryID.String(), "sess-1", "")
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = serve(newRouter(svc), http.MethodDelete, "/cart/items/bad", "sess-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestClearAndCount(t *testing.T) {
	svc := &stubCart{}
	resp := serve(newRouter(svc), http.MethodDelete, "/cart", "sess-1", "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.True(t, svc.cleared)

	resp = serve(newRouter(svc), http.MethodGet, "/cart/count", "sess-1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"quantity":5`)
}
