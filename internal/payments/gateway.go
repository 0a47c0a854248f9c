package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/ebilling"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

// Gateway is the billing provider surface used by payments. *ebilling.Client
// satisfies it.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	CreateInvoice(ctx context.Context, token string, req ebilling.InvoiceRequest) (string, error)
	PushUSSD(ctx context.Context, token, billID, phone, paymentSystem string) error
	GetBill(ctx context.Context, billID string) (*ebilling.BillState, error)
}

var _ Gateway = (*ebilling.Client)(nil)

func (s *service) InitiateMobilePayment(ctx context.Context, input GatewayPaymentInput) (*GatewayPaymentResult, error) {
	if input.PhoneNumber == nil || strings.TrimSpace(*input.PhoneNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone_number is required for mobile money")
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = enums.PaymentMethodFromSystem(input.PaymentSystem)
	}
	if !input.PaymentMethod.IsMobileMoney() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s is not a mobile money method", input.PaymentMethod)
	}
	return s.initiateWithGateway(ctx, input, true)
}

func (s *service) InitiateCardPayment(ctx context.Context, input GatewayPaymentInput) (*GatewayPaymentResult, error) {
	if input.PaymentMethod == "" {
		input.PaymentMethod = enums.PaymentMethodCard
	}
	if input.PaymentMethod != enums.PaymentMethodCard {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s is not a card method", input.PaymentMethod)
	}
	return s.initiateWithGateway(ctx, input, false)
}

// initiateWithGateway opens the pending transaction first so a gateway
// failure still leaves a record carrying the failure note.
func (s *service) initiateWithGateway(ctx context.Context, input GatewayPaymentInput, push bool) (*GatewayPaymentResult, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing gateway not configured")
	}
	txn, order, err := s.initiate(ctx, input.InitiateInput)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
	result := &GatewayPaymentResult{Transaction: txn}

	token, err := s.gateway.Authenticate(ctx)
	if err != nil {
		return result, s.gatewayFailed(ctx, txn.ID, "authenticate", err)
	}

	payerName := strings.TrimSpace(input.PayerName)
	if payerName == "" {
		payerName = order.CustomerName
	}
	payerEmail := strings.TrimSpace(input.PayerEmail)
	if payerEmail == "" && order.CustomerEmail != nil {
		payerEmail = *order.CustomerEmail
	}
	phone := order.CustomerPhone
	if txn.PhoneNumber != nil {
		phone = *txn.PhoneNumber
	}

	billID, err := s.gateway.CreateInvoice(ctx, token, ebilling.InvoiceRequest{
		PayerName:         payerName,
		PayerEmail:        payerEmail,
		PayerMSISDN:       phone,
		AmountCents:       txn.AmountCents,
		ExternalReference: txn.Reference,
		Description:       fmt.Sprintf("Commande %s", order.OrderNumber),
	})
	if err != nil {
		return result, s.gatewayFailed(ctx, txn.ID, "create invoice", err)
	}
	result.BillID = billID
	ctx = s.logg.WithBillID(ctx, billID)

	if err := s.repo.Update(ctx, txn.ID, map[string]any{"operator_reference": billID}); err != nil {
		return result, createError(err)
	}
	txn.OperatorReference = &billID

	if push {
		system := s.paymentSystem(input)
		if err := s.gateway.PushUSSD(ctx, token, billID, phone, system); err != nil {
			return result, s.gatewayFailed(ctx, txn.ID, "ussd push", err)
		}
		result.Pushed = true
	}

	s.logg.Info(ctx, "payment sent to billing gateway")
	if refreshed, err := s.repo.FindByID(ctx, txn.ID); err == nil {
		result.Transaction = refreshed
	}
	return result, nil
}

func (s *service) paymentSystem(input GatewayPaymentInput) string {
	if system := strings.TrimSpace(input.PaymentSystem); system != "" {
		return system
	}
	if system := input.PaymentMethod.PaymentSystem(); system != "" {
		return system
	}
	return s.billing.DefaultSystem
}

// gatewayFailed notes the failure on the transaction, which stays pending,
// and returns a gateway error.
func (s *service) gatewayFailed(ctx context.Context, id uuid.UUID, step string, cause error) error {
	s.logg.Error(s.logg.WithField(ctx, "step", step), "billing gateway call failed", cause)
	note := fmt.Sprintf("billing gateway %s failed: %v", step, cause)
	if err := s.repo.Update(ctx, id, map[string]any{"notes": note}); err != nil {
		s.logg.Warn(ctx, "could not record gateway failure on transaction")
	}
	if typed := pkgerrors.As(cause); typed != nil && typed.Code() == pkgerrors.CodeGateway {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, cause, "billing gateway "+step+" failed")
}
