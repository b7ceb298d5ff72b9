package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/sequence"
	"github.com/solarquote/cotizador/internal/shared"
)

type memState struct {
	clients      map[int64]bool
	cards        map[int64]Card
	quotations   map[int64]ChargeTarget
	transactions map[int64]Transaction
	paidMethod   map[int64]Method
	seq          int64
	nextID       int64
}

func (m memState) clone() memState {
	out := memState{
		clients:      map[int64]bool{},
		cards:        map[int64]Card{},
		quotations:   map[int64]ChargeTarget{},
		transactions: map[int64]Transaction{},
		paidMethod:   map[int64]Method{},
		seq:          m.seq,
		nextID:       m.nextID,
	}
	for k, v := range m.clients {
		out.clients[k] = v
	}
	for k, v := range m.cards {
		out.cards[k] = v
	}
	for k, v := range m.quotations {
		out.quotations[k] = v
	}
	for k, v := range m.transactions {
		out.transactions[k] = v
	}
	for k, v := range m.paidMethod {
		out.paidMethod[k] = v
	}
	return out
}

type mockRepository struct {
	state     memState
	finishErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{state: memState{}.clone()}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	snapshot := m.state.clone()
	if err := fn(ctx, m); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *mockRepository) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

func (m *mockRepository) ClientExists(_ context.Context, id int64) (bool, error) {
	return m.state.clients[id], nil
}

func (m *mockRepository) ListCards(_ context.Context, clientID int64) ([]Card, error) {
	out := []Card{}
	for _, c := range m.state.cards {
		if c.ClientID == clientID && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepository) GetCard(_ context.Context, id int64) (*Card, error) {
	c, ok := m.state.cards[id]
	if !ok {
		return nil, ErrCardNotFound
	}
	return &c, nil
}

func (m *mockRepository) InsertCard(_ context.Context, c Card) (int64, error) {
	if c.IsDefault {
		for _, other := range m.state.cards {
			if other.ClientID == c.ClientID && other.IsDefault {
				return 0, errDefaultTaken
			}
		}
	}
	c.ID = m.id()
	c.Active = true
	m.state.cards[c.ID] = c
	return c.ID, nil
}

func (m *mockRepository) ClearDefault(_ context.Context, clientID int64) error {
	for id, c := range m.state.cards {
		if c.ClientID == clientID {
			c.IsDefault = false
			m.state.cards[id] = c
		}
	}
	return nil
}

func (m *mockRepository) MarkDefault(_ context.Context, cardID int64) error {
	c, ok := m.state.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	for _, other := range m.state.cards {
		if other.ClientID == c.ClientID && other.IsDefault && other.ID != cardID {
			return errDefaultTaken
		}
	}
	c.IsDefault = true
	m.state.cards[cardID] = c
	return nil
}

func (m *mockRepository) DeleteCard(_ context.Context, id int64) error {
	if _, ok := m.state.cards[id]; !ok {
		return ErrCardNotFound
	}
	delete(m.state.cards, id)
	for tid, t := range m.state.transactions {
		if t.CardID != nil && *t.CardID == id {
			t.CardID = nil
			m.state.transactions[tid] = t
		}
	}
	return nil
}

func (m *mockRepository) NextNumber(context.Context) (string, error) {
	m.state.seq++
	return sequence.Format("TRX", m.state.seq, 8), nil
}

func (m *mockRepository) LockQuotation(_ context.Context, id int64) (*ChargeTarget, error) {
	q, ok := m.state.quotations[id]
	if !ok {
		return nil, ErrQuotationNotFound
	}
	return &q, nil
}

func (m *mockRepository) MarkQuotationPaid(ctx context.Context, id int64, method Method) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q, ok := m.state.quotations[id]
	if !ok {
		return ErrQuotationNotFound
	}
	q.PaymentProcessed = true
	m.state.quotations[id] = q
	m.state.paidMethod[id] = method
	return nil
}

func (m *mockRepository) InsertTransaction(_ context.Context, t Transaction) (int64, error) {
	t.ID = m.id()
	m.state.transactions[t.ID] = t
	return t.ID, nil
}

func (m *mockRepository) FinishTransaction(ctx context.Context, t Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.finishErr != nil {
		return m.finishErr
	}
	if _, ok := m.state.transactions[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	m.state.transactions[t.ID] = t
	return nil
}

func (m *mockRepository) GetTransaction(_ context.Context, id int64) (*Transaction, error) {
	t, ok := m.state.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &t, nil
}

func (m *mockRepository) FindByIdempotencyKey(_ context.Context, key string) (*Transaction, error) {
	for _, t := range m.state.transactions {
		if t.IdempotencyKey == key {
			return &t, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *mockRepository) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	out := []Transaction{}
	for _, t := range m.state.transactions {
		if filter.QuotationID > 0 && t.QuotationID != filter.QuotationID {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

type fakeGateway struct {
	charge    *ChargeResult
	chargeErr error
	charges   []ChargeRequest
	tokens    int
	deleted   []string
	deleteErr error
	during    func()
}

func (g *fakeGateway) Tokenize(_ context.Context, card CardData) (*TokenizeResult, error) {
	g.tokens++
	return &TokenizeResult{Token: fmt.Sprintf("tok_%s_%d", card.Number[len(card.Number)-4:], g.tokens), Brand: "VISA"}, nil
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.charges = append(g.charges, req)
	if g.during != nil {
		g.during()
	}
	return g.charge, g.chargeErr
}

func (g *fakeGateway) DeleteToken(_ context.Context, token string) error {
	g.deleted = append(g.deleted, token)
	return g.deleteErr
}

type fakeIdempotency struct{ claimed map[string]bool }

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if f.claimed[module+key] {
		return shared.ErrIdempotencyConflict
	}
	f.claimed[module+key] = true
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key, module string) error {
	delete(f.claimed, module+key)
	return nil
}

type countingObserver map[string]int

func (o countingObserver) PaymentProcessed(status string) { o[status]++ }

type recordingAudit struct{ actions []string }

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type fixture struct {
	repo     *mockRepository
	gateway  *fakeGateway
	idem     *fakeIdempotency
	observer countingObserver
	audit    *recordingAudit
	service  *Service
}

func newFixture() *fixture {
	fx := &fixture{
		repo:     newMockRepository(),
		gateway:  &fakeGateway{charge: &ChargeResult{Approved: true, AuthorizationCode: "AUTH1", GatewayID: "GW1", Raw: json.RawMessage(`{"status":"approved"}`)}},
		idem:     &fakeIdempotency{claimed: map[string]bool{}},
		observer: countingObserver{},
		audit:    &recordingAudit{},
	}
	fx.repo.state.clients[1] = true
	fx.repo.state.clients[2] = true
	fx.repo.state.quotations[10] = ChargeTarget{ID: 10, Number: "COT-000010", ClientID: 1, Total: decimal.RequireFromString("50575")}
	fx.service = NewService(fx.repo, fx.gateway, fx.idem, fx.audit, fx.observer, nil)
	fx.service.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	return fx
}

func cardInput(clientID int64) RegisterCardInput {
	return RegisterCardInput{ClientID: clientID, Number: "4111 1111 1111 1111", Holder: " Ana Rojas ", Expiry: "12/2030", CVV: "123"}
}

func defaults(cards map[int64]Card, clientID int64) []int64 {
	var out []int64
	for id, c := range cards {
		if c.ClientID == clientID && c.IsDefault {
			out = append(out, id)
		}
	}
	return out
}

func TestRegisterCardFirstBecomesDefault(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.Equal(t, "1111", first.Last4)
	assert.Equal(t, "Ana Rojas", first.HolderName)

	second, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	assert.False(t, second.IsDefault)
	assert.Equal(t, []int64{first.ID}, defaults(fx.repo.state.cards, 1))
	assert.Equal(t, []string{"card.registered", "card.registered"}, fx.audit.actions)
}

func TestRegisterCardValidation(t *testing.T) {
	fx := newFixture()
	in := cardInput(1)
	in.Number = "4111111111111112"
	in.Expiry = "01/2020"
	in.CVV = "12"
	_, err := fx.service.RegisterCard(context.Background(), in)
	var fields httpx.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "number")
	assert.Contains(t, fields, "expiry")
	assert.Contains(t, fields, "cvv")
	assert.Zero(t, fx.gateway.tokens)

	_, err = fx.service.RegisterCard(context.Background(), cardInput(99))
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestSetDefaultCardLeavesExactlyOneDefault(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	a, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	b, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	other, err := fx.service.RegisterCard(ctx, cardInput(2))
	require.NoError(t, err)

	updated, err := fx.service.SetDefaultCard(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, []int64{b.ID}, defaults(fx.repo.state.cards, 1))
	assert.False(t, fx.repo.state.cards[a.ID].IsDefault)
	assert.True(t, fx.repo.state.cards[other.ID].IsDefault)

	_, err = fx.service.SetDefaultCard(ctx, 2, a.ID)
	assert.ErrorIs(t, err, ErrCardNotFound)
	assert.Equal(t, []int64{b.ID}, defaults(fx.repo.state.cards, 1))
}

func TestDeleteCardIsBestEffortOnGateway(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	card, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	token := fx.repo.state.cards[card.ID].Token

	fx.gateway.deleteErr = errors.New("timeout")
	require.NoError(t, fx.service.DeleteCard(ctx, 1, card.ID))
	assert.Equal(t, []string{token}, fx.gateway.deleted)
	_, ok := fx.repo.state.cards[card.ID]
	assert.False(t, ok)

	assert.ErrorIs(t, fx.service.DeleteCard(ctx, 1, card.ID), ErrCardNotFound)
}

func TestRegisterCardAfterDefaultDeletedBecomesDefault(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	first, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	second, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	require.NoError(t, fx.service.DeleteCard(ctx, 1, first.ID))
	assert.Empty(t, defaults(fx.repo.state.cards, 1))

	third, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	assert.True(t, third.IsDefault)
	assert.Equal(t, []int64{third.ID}, defaults(fx.repo.state.cards, 1))
	assert.False(t, fx.repo.state.cards[second.ID].IsDefault)
}

func TestChargeApprovedMarksQuotationPaid(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	card, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)

	outcome, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID, ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	txn := outcome.Transaction
	assert.Equal(t, "TRX-00000001", txn.Number)
	assert.Equal(t, StatusApproved, txn.Status)
	assert.Equal(t, "AUTH1", txn.AuthorizationCode)
	assert.NotNil(t, txn.ProcessedAt)

	require.Len(t, fx.gateway.charges, 1)
	assert.Equal(t, "50575", fx.gateway.charges[0].Amount.String())
	assert.Equal(t, "Quotation COT-000010", fx.gateway.charges[0].Description)

	assert.True(t, fx.repo.state.quotations[10].PaymentProcessed)
	assert.Equal(t, MethodOneClick, fx.repo.state.paidMethod[10])
	assert.Equal(t, StatusApproved, fx.repo.state.transactions[txn.ID].Status)
	assert.Equal(t, 1, fx.observer["APPROVED"])

	_, err = fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Len(t, fx.repo.state.transactions, 1)
}

func TestChargeRejectedIsRecorded(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	card, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	fx.gateway.charge = &ChargeResult{Message: "insufficient funds", Raw: json.RawMessage(`{"status":"rejected"}`)}

	outcome, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID})
	assert.ErrorIs(t, err, ErrPaymentRejected)
	require.NotNil(t, outcome)
	stored := fx.repo.state.transactions[outcome.Transaction.ID]
	assert.Equal(t, StatusRejected, stored.Status)
	assert.Equal(t, "insufficient funds", stored.ErrorMessage)
	assert.JSONEq(t, `{"status":"rejected"}`, string(stored.GatewayResponse))
	assert.False(t, fx.repo.state.quotations[10].PaymentProcessed)
	assert.Equal(t, 1, fx.observer["REJECTED"])
}

func TestChargeGatewayFailureIsRecorded(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	card, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)
	fx.gateway.charge = nil
	fx.gateway.chargeErr = ErrGatewayUnavailable

	outcome, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	require.NotNil(t, outcome)
	stored := fx.repo.state.transactions[outcome.Transaction.ID]
	assert.Equal(t, StatusRejected, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.False(t, fx.repo.state.quotations[10].PaymentProcessed)
}

func TestChargeOutcomeRecordedAfterRequestCancelled(t *testing.T) {
	fx := newFixture()
	card, err := fx.service.RegisterCard(context.Background(), cardInput(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.gateway.charge = nil
	fx.gateway.chargeErr = ErrGatewayUnavailable
	fx.gateway.during = cancel

	outcome, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID, IdempotencyKey: "k-cancel"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	require.NotNil(t, outcome)
	assert.Equal(t, StatusRejected, fx.repo.state.transactions[outcome.Transaction.ID].Status)
	assert.Contains(t, fx.audit.actions, "payment.charged")

	retry, err := fx.service.Charge(context.Background(), ChargeInput{QuotationID: 10, CardID: card.ID, IdempotencyKey: "k-cancel"})
	assert.NotErrorIs(t, err, ErrChargeInProgress)
	require.NotNil(t, retry)
	assert.True(t, retry.Replayed)
	assert.Equal(t, StatusRejected, retry.Transaction.Status)
	assert.Len(t, fx.gateway.charges, 1)
}

func TestChargeApprovalRecordedAfterRequestCancelled(t *testing.T) {
	fx := newFixture()
	card, err := fx.service.RegisterCard(context.Background(), cardInput(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.gateway.during = cancel

	outcome, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, fx.repo.state.transactions[outcome.Transaction.ID].Status)
	assert.True(t, fx.repo.state.quotations[10].PaymentProcessed)
}

func TestChargeRejectsForeignCard(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	card, err := fx.service.RegisterCard(ctx, cardInput(2))
	require.NoError(t, err)

	_, err = fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID})
	assert.ErrorIs(t, err, ErrCardNotFound)
	assert.Empty(t, fx.repo.state.transactions)
	assert.Empty(t, fx.gateway.charges)

	_, err = fx.service.Charge(ctx, ChargeInput{QuotationID: 404, CardID: card.ID})
	assert.ErrorIs(t, err, ErrQuotationNotFound)
}

func TestChargeIdempotencyKeyReplays(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	card, err := fx.service.RegisterCard(ctx, cardInput(1))
	require.NoError(t, err)

	first, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID, IdempotencyKey: "abc"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: card.ID, IdempotencyKey: "abc"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	assert.Len(t, fx.gateway.charges, 1)
}

func TestChargeIdempotencyKeyReleasedOnEarlyFailure(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: 77, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrCardNotFound)
	assert.Empty(t, fx.idem.claimed)

	fx.idem.claimed[idempotencyModule+"k2"] = true
	_, err = fx.service.Charge(ctx, ChargeInput{QuotationID: 10, CardID: 77, IdempotencyKey: "k2"})
	assert.ErrorIs(t, err, ErrChargeInProgress)
}

func TestListTransactionsRejectsUnknownStatus(t *testing.T) {
	fx := newFixture()
	_, _, err := fx.service.ListTransactions(context.Background(), TransactionFilter{Status: "LOST"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}
