package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalpayments "github.com/angelmondragon/marketpay-backend/internal/payments"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

type stubPayments struct {
	txn      *models.Transaction
	verify   *internalpayments.VerifyResult
	err      error
	initiate internalpayments.InitiateInput
	gateway  internalpayments.GatewayPaymentInput
	created  internalpayments.CreateInput
	updated  internalpayments.UpdateInput
	list     internalpayments.ListParams
	reason   string
	calls    []string
}

func (s *stubPayments) Initiate(_ context.Context, input internalpayments.InitiateInput) (*models.Transaction, error) {
	s.calls = append(s.calls, "initiate")
	s.initiate = input
	return s.txn, s.err
}

func (s *stubPayments) InitiateMobilePayment(_ context.Context, input internalpayments.GatewayPaymentInput) (*internalpayments.GatewayPaymentResult, error) {
	s.calls = append(s.calls, "mobile")
	s.gateway = input
	if s.err != nil {
		return nil, s.err
	}
	return &internalpayments.GatewayPaymentResult{Transaction: s.txn, BillID: "5550001234", Pushed: true}, nil
}

func (s *stubPayments) InitiateCardPayment(_ context.Context, input internalpayments.GatewayPaymentInput) (*internalpayments.GatewayPaymentResult, error) {
	s.calls = append(s.calls, "card")
	s.gateway = input
	if s.err != nil {
		return nil, s.err
	}
	return &internalpayments.GatewayPaymentResult{Transaction: s.txn, BillID: "5550001234"}, nil
}

func (s *stubPayments) VerifyPayment(context.Context, string) (*internalpayments.VerifyResult, error) {
	return s.verify, s.err
}

func (s *stubPayments) Create(_ context.Context, input internalpayments.CreateInput) (*models.Transaction, error) {
	s.created = input
	return s.txn, s.err
}

func (s *stubPayments) Update(_ context.Context, _ uuid.UUID, input internalpayments.UpdateInput) (*models.Transaction, error) {
	s.updated = input
	return s.txn, s.err
}

func (s *stubPayments) Get(context.Context, uuid.UUID) (*models.Transaction, error) {
	return s.txn, s.err
}

func (s *stubPayments) List(_ context.Context, params internalpayments.ListParams) (*internalpayments.ListResult, error) {
	s.list = params
	if s.err != nil {
		return nil, s.err
	}
	return &internalpayments.ListResult{Transactions: []models.Transaction{*s.txn}}, nil
}

func (s *stubPayments) MarkFailed(_ context.Context, _ uuid.UUID, reason string) (*models.Transaction, error) {
	s.calls = append(s.calls, "fail")
	s.reason = reason
	return s.txn, s.err
}

func (s *stubPayments) Refund(_ context.Context, _ uuid.UUID, reason string) (*models.Transaction, error) {
	s.calls = append(s.calls, "refund")
	s.reason = reason
	return s.txn, s.err
}

func sampleTransaction() *models.Transaction {
	orderID := uuid.New()
	return &models.Transaction{
		ID:             uuid.New(),
		OrderID:        &orderID,
		Reference:      "TXN-20261019-AB12CD",
		AmountCents:    11000,
		PaymentMethod:  enums.PaymentMethodAirtelMoney,
		PaymentPurpose: enums.PaymentPurposeFullPayment,
		Status:         enums.TransactionStatusPending,
	}
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/payments/initiate", Initiate(svc, nil))
	r.Post("/payments/mobile", InitiateMobile(svc, nil))
	r.Post("/payments/card", InitiateCard(svc, nil))
	r.Post("/payments/verify/{billId}", Verify(svc, nil))
	r.Get("/transactions", List(svc, nil))
	r.Post("/transactions", Create(svc, nil))
	r.Get("/transactions/{transactionId}", Detail(svc, nil))
	r.Patch("/transactions/{transactionId}", Update(svc, nil))
	r.Post("/transactions/{transactionId}/refund", Refund(svc, nil))
	r.Post("/transactions/{transactionId}/fail", MarkFailed(svc, nil))
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(method, target, strings.NewReader(body)))
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestInitiateNormalizesPurpose(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	orderID := uuid.New()
	body := `{"order_id":"` + orderID.String() + `","amount_cents":11000,"payment_method":"airtel_money","payment_purpose":"layaway","phone_number":" 077000000 "}`

	resp := serve(newRouter(svc), http.MethodPost, "/payments/initiate", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, orderID, svc.initiate.OrderID)
	assert.Equal(t, enums.PaymentPurposeFullPayment, svc.initiate.PaymentPurpose)
	require.NotNil(t, svc.initiate.PhoneNumber)
	assert.Equal(t, "077000000", *svc.initiate.PhoneNumber)
}

func TestInitiateRejectsBadInput(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	cases := []string{
		`{"order_id":"` + uuid.NewString() + `","amount_cents":0,"payment_method":"cash"}`,
		`{"order_id":"` + uuid.NewString() + `","amount_cents":100,"payment_method":"barter"}`,
		`{"amount_cents":100,"payment_method":"cash"}`,
	}
	for _, body := range cases {
		resp := serve(newRouter(svc), http.MethodPost, "/payments/initiate", body)
		assert.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
	assert.Empty(t, svc.calls)
}

func TestInitiateSurfacesAmountMismatch(t *testing.T) {
	svc := &stubPayments{err: pkgerrors.New(pkgerrors.CodeAmountMismatch, "full_payment payment of 100 does not match expected 11000")}
	body := `{"order_id":"` + uuid.NewString() + `","amount_cents":100,"payment_method":"cash"}`

	resp := serve(newRouter(svc), http.MethodPost, "/payments/initiate", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), string(pkgerrors.CodeAmountMismatch))
}

func TestGatewayInitiationsRouteToTheirMethod(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	body := `{"order_id":"` + uuid.NewString() + `","amount_cents":11000,"payment_method":"moov_money","payer_name":"Awa","payer_email":"awa@example.com"}`

	resp := serve(newRouter(svc), http.MethodPost, "/payments/mobile", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var out GatewayPaymentResponse
	decodeData(t, resp, &out)
	assert.Equal(t, "5550001234", out.BillID)
	assert.True(t, out.Pushed)
	assert.Equal(t, "Awa", svc.gateway.PayerName)

	resp = serve(newRouter(svc), http.MethodPost, "/payments/card", body)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, []string{"mobile", "card"}, svc.calls)
}

func TestGatewayFailureIsBadGateway(t *testing.T) {
	svc := &stubPayments{err: pkgerrors.New(pkgerrors.CodeGateway, "billing provider unavailable")}
	body := `{"order_id":"` + uuid.NewString() + `","amount_cents":11000,"payment_method":"moov_money"}`

	resp := serve(newRouter(svc), http.MethodPost, "/payments/mobile", body)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestVerifyReportsOutcome(t *testing.T) {
	txn := sampleTransaction()
	txn.Status = enums.TransactionStatusPaid
	svc := &stubPayments{verify: &internalpayments.VerifyResult{
		BillID:        "5550001234",
		Outcome:       internalpayments.OutcomeConfirmed,
		ProviderState: "paid",
		Transaction:   txn,
	}}

	resp := serve(newRouter(svc), http.MethodPost, "/payments/verify/5550001234", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var out VerifyResponse
	decodeData(t, resp, &out)
	assert.True(t, out.Confirmed)
	assert.Equal(t, internalpayments.OutcomeConfirmed, out.Outcome)
	require.NotNil(t, out.Transaction)
	assert.Equal(t, enums.TransactionStatusPaid, out.Transaction.Status)
	assert.Nil(t, out.Order)

	svc.verify = &internalpayments.VerifyResult{BillID: "5550001234", Outcome: internalpayments.OutcomePending}
	resp = serve(newRouter(svc), http.MethodPost, "/payments/verify/5550001234", "")
	require.Equal(t, http.StatusOK, resp.Code)
	out = VerifyResponse{}
	decodeData(t, resp, &out)
	assert.False(t, out.Confirmed)
}

func TestVerifyUnknownBill(t *testing.T) {
	svc := &stubPayments{err: pkgerrors.New(pkgerrors.CodeTransactionNotFound, "no transaction for bill")}
	resp := serve(newRouter(svc), http.MethodPost, "/payments/verify/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCreateTransaction(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	body := `{"amount_cents":5000,"payment_method":"cash","status":"paid"}`

	resp := serve(newRouter(svc), http.MethodPost, "/transactions", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Nil(t, svc.created.OrderID)
	assert.Equal(t, enums.TransactionStatusPaid, svc.created.Status)

	resp = serve(newRouter(svc), http.MethodPost, "/transactions", `{"amount_cents":5000,"payment_method":"cash","status":"refunded"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListParsesFilters(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	orderID := uuid.New()

	resp := serve(newRouter(svc), http.MethodGet, "/transactions?limit=10&order_id="+orderID.String()+"&status=pending", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 10, svc.list.Limit)
	require.NotNil(t, svc.list.OrderID)
	assert.Equal(t, orderID, *svc.list.OrderID)
	require.NotNil(t, svc.list.Status)
	assert.Equal(t, enums.TransactionStatusPending, *svc.list.Status)

	resp = serve(newRouter(svc), http.MethodGet, "/transactions?order_id=nope", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = serve(newRouter(svc), http.MethodGet, "/transactions?limit=1000", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateTransaction(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	resp := serve(newRouter(svc), http.MethodPatch, "/transactions/"+uuid.NewString(), `{"notes":"paid at counter","payment_method":"cash"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, svc.updated.Notes)
	assert.Equal(t, "paid at counter", *svc.updated.Notes)
	require.NotNil(t, svc.updated.PaymentMethod)
	assert.Equal(t, enums.PaymentMethodCash, *svc.updated.PaymentMethod)

	resp = serve(newRouter(svc), http.MethodPatch, "/transactions/"+uuid.NewString(), `{"amount_cents":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRefundAndFailAcceptOptionalReason(t *testing.T) {
	svc := &stubPayments{txn: sampleTransaction()}
	id := uuid.NewString()

	resp := serve(newRouter(svc), http.MethodPost, "/transactions/"+id+"/refund", `{"reason":" damaged "}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "damaged", svc.reason)

	resp = serve(newRouter(svc), http.MethodPost, "/transactions/"+id+"/fail", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "", svc.reason)
	assert.Equal(t, []string{"refund", "fail"}, svc.calls)

	svc.err = pkgerrors.New(pkgerrors.CodeInvalidTransition, "refunded -> failed not allowed")
	resp = serve(newRouter(svc), http.MethodPost, "/transactions/"+id+"/fail", "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = serve(newRouter(svc), http.MethodPost, "/transactions/not-a-uuid/refund", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
