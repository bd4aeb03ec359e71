package checkout

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"llcstack/internal/types"
)

// --- Mock processor ---

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error) {
	args := m.Called(ctx, email)
	if c := args.Get(0); c != nil {
		return c.(*types.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProcessor) CreateCustomer(ctx context.Context, email string) (*types.Customer, error) {
	args := m.Called(ctx, email)
	if c := args.Get(0); c != nil {
		return c.(*types.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProcessor) CreateCheckoutSession(ctx context.Context, p types.CheckoutSessionParams) (*types.CheckoutSession, error) {
	args := m.Called(ctx, p)
	if s := args.Get(0); s != nil {
		return s.(*types.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*types.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*types.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProcessor) CreateSubscription(ctx context.Context, p types.SubscriptionParams) (*types.Subscription, error) {
	args := m.Called(ctx, p)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProcessor) FindSubscription(ctx context.Context, customerID string, match map[string]string) (*types.Subscription, error) {
	args := m.Called(ctx, customerID, match)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

// --- Mock ledger ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Claim(ctx context.Context, sessionID string, kind types.DeferredKind, eventID string) (types.ClaimOutcome, error) {
	args := m.Called(ctx, sessionID, kind, eventID)
	return args.Get(0).(types.ClaimOutcome), args.Error(1)
}

func (m *mockLedger) MarkCreated(ctx context.Context, sessionID string, kind types.DeferredKind, subscriptionID string) error {
	return m.Called(ctx, sessionID, kind, subscriptionID).Error(0)
}

func (m *mockLedger) Release(ctx context.Context, sessionID string, kind types.DeferredKind) error {
	return m.Called(ctx, sessionID, kind).Error(0)
}

// --- Mock failure sink ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) PublishReconcileFailure(ctx context.Context, f types.ReconcileFailure) error {
	return m.Called(ctx, f).Error(0)
}

// --- Recording metrics ---

type recordedReconcile struct {
	kind  types.DeferredKind
	state types.ReconcileState
}

type fakeRecorder struct {
	checkouts  []types.CheckoutMode
	reconciles []recordedReconcile
}

func (f *fakeRecorder) RecordCheckout(_ context.Context, mode types.CheckoutMode, _ types.DeferredKind) {
	f.checkouts = append(f.checkouts, mode)
}

func (f *fakeRecorder) RecordReconcile(_ context.Context, kind types.DeferredKind, state types.ReconcileState) {
	f.reconciles = append(f.reconciles, recordedReconcile{kind, state})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testCatalog is the default catalog with both recurring prices configured.
func testCatalog() *Catalog {
	return DefaultCatalog("price_ra_yearly", "price_mail_monthly")
}
