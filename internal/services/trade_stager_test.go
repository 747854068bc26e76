package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
	"tradegpt-backend/internal/store"
)

type fakeBuilder struct {
	calls []string
	err   error
	errs  map[string]error // per call kind
}

func (b *fakeBuilder) tx(kind, account string) (models.PreparedTx, error) {
	b.calls = append(b.calls, kind+":"+account)
	if b.err != nil {
		return models.PreparedTx{}, b.err
	}
	if err := b.errs[kind]; err != nil {
		return models.PreparedTx{}, err
	}
	return models.PreparedTx{To: account, Data: "0x" + kind, Value: "0", ChainID: 50312}, nil
}

func (b *fakeBuilder) BuildDirect(account string, _ models.Trade) (models.PreparedTx, error) {
	return b.tx("direct", account)
}

func (b *fakeBuilder) BuildPrepare(account string, _ models.Trade) (models.PreparedTx, error) {
	return b.tx("prepare", account)
}

func (b *fakeBuilder) BuildConfirm(account string) (models.PreparedTx, error) {
	return b.tx("confirm", account)
}

func (b *fakeBuilder) BuildCancel(account string) (models.PreparedTx, error) {
	return b.tx("cancel", account)
}

type fakeRegistry struct {
	account string
	err     error
}

func (r fakeRegistry) SmartAccountOf(context.Context, string) (string, error) {
	return r.account, r.err
}

type fakeSubmitter struct {
	pending bool
	sendErr error
	waitErr error
	sent    []string
}

func (s *fakeSubmitter) HasPendingTrade(context.Context, string) (bool, error) {
	return s.pending, nil
}

func (s *fakeSubmitter) SendTransaction(_ context.Context, tx models.PreparedTx) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sent = append(s.sent, tx.Data)
	return fmt.Sprintf("0xhash%d", len(s.sent)), nil
}

func (s *fakeSubmitter) WaitForReceipt(context.Context, string) error {
	return s.waitErr
}

const (
	stageWallet  = "0x1111111111111111111111111111111111111111"
	stageAccount = "0x2222222222222222222222222222222222222222"
)

func stagerFixture(t *testing.T) (*store.TradeStore, *mockNotifier) {
	t.Helper()
	trades := store.NewTradeStore()
	insertTrade(t, trades, "u1", "t1", "ETH", models.SideLong, models.Float(3000), models.StatusDraft)
	return trades, newMockNotifier()
}

func TestTradeStager_DirectWallet(t *testing.T) {
	trades, notifier := stagerFixture(t)
	builder := &fakeBuilder{}
	stager := NewTradeStager(trades, builder, fakeRegistry{}, nil, notifier, zap.NewNop())

	res, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
	require.NoError(t, err)
	assert.False(t, res.StagedOnChain)
	assert.False(t, res.SmartAccountUsed)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, "0xdirect", res.Transaction.Data)
	assert.Equal(t, []string{"direct:" + stageWallet}, builder.calls)

	got, _ := trades.Get("u1", "t1")
	assert.Equal(t, models.StatusStaged, got.Status)
	assert.Equal(t, res.Transaction, got.PreparedTx)

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTradeStaged, events[0].Type)
}

func TestTradeStager_SmartAccountWithoutAgent(t *testing.T) {
	trades, notifier := stagerFixture(t)
	builder := &fakeBuilder{}
	stager := NewTradeStager(trades, builder, fakeRegistry{account: stageAccount}, nil, notifier, zap.NewNop())

	res, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
	require.NoError(t, err)
	assert.False(t, res.StagedOnChain)
	assert.True(t, res.SmartAccountUsed)
	assert.Equal(t, "0xprepare", res.Transaction.Data)
	assert.Equal(t, stageAccount, res.Transaction.To)
}

func TestTradeStager_AgentPreparesOnChain(t *testing.T) {
	trades, notifier := stagerFixture(t)
	builder := &fakeBuilder{}
	submitter := &fakeSubmitter{pending: true}
	stager := NewTradeStager(trades, builder, fakeRegistry{account: stageAccount}, submitter, notifier, zap.NewNop())

	res, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
	require.NoError(t, err)
	assert.True(t, res.StagedOnChain)
	assert.True(t, res.SmartAccountUsed)
	assert.Equal(t, "0xconfirm", res.Transaction.Data)
	assert.Equal(t, []string{"0xcancel", "0xprepare"}, submitter.sent, "pending trade is cancelled first")
}

func TestTradeStager_AgentFailureFallsBack(t *testing.T) {
	cases := []struct {
		name      string
		submitter *fakeSubmitter
	}{
		{"send fails", &fakeSubmitter{sendErr: errors.New("insufficient funds")}},
		{"receipt fails", &fakeSubmitter{waitErr: errors.New("reverted")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trades, notifier := stagerFixture(t)
			stager := NewTradeStager(trades, &fakeBuilder{}, fakeRegistry{account: stageAccount}, tc.submitter, notifier, zap.NewNop())

			res, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
			require.NoError(t, err)
			assert.False(t, res.StagedOnChain)
			assert.True(t, res.SmartAccountUsed)
			assert.Equal(t, "0xprepare", res.Transaction.Data)

			got, _ := trades.Get("u1", "t1")
			assert.Equal(t, models.StatusStaged, got.Status)
		})
	}
}

func TestTradeStager_RegistryErrorMeansDirect(t *testing.T) {
	trades, notifier := stagerFixture(t)
	stager := NewTradeStager(trades, &fakeBuilder{}, fakeRegistry{err: errors.New("rpc down")}, nil, notifier, zap.NewNop())

	res, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
	require.NoError(t, err)
	assert.False(t, res.SmartAccountUsed)
	assert.Equal(t, "0xdirect", res.Transaction.Data)
}

func TestTradeStager_NotFound(t *testing.T) {
	trades, notifier := stagerFixture(t)
	builder := &fakeBuilder{}
	stager := NewTradeStager(trades, builder, nil, nil, notifier, zap.NewNop())

	_, err := stager.Stage(context.Background(), "u2", "t1", stageWallet)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, builder.calls)
	assert.Empty(t, notifier.all())
}

func TestTradeStager_BuildFailureLeavesLedger(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"missing router", fmt.Errorf("router: %w", models.ErrConfiguration), models.ErrConfiguration},
		{"encode failure", errors.New("boom"), models.ErrTransactionBuild},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trades, notifier := stagerFixture(t)
			before, _ := trades.Get("u1", "t1")
			stager := NewTradeStager(trades, &fakeBuilder{err: tc.err}, nil, nil, notifier, zap.NewNop())

			_, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
			assert.ErrorIs(t, err, tc.want)

			after, _ := trades.Get("u1", "t1")
			assert.Equal(t, before, after)
			assert.Empty(t, notifier.all())
		})
	}
}

func TestTradeStager_MissingRouterSendsNothing(t *testing.T) {
	trades, notifier := stagerFixture(t)
	builder := &fakeBuilder{errs: map[string]error{
		"prepare": fmt.Errorf("SOMNIA_ROUTER_ADDRESS not configured: %w", models.ErrConfiguration),
	}}
	submitter := &fakeSubmitter{pending: true}
	stager := NewTradeStager(trades, builder, fakeRegistry{account: stageAccount}, submitter, notifier, zap.NewNop())

	_, err := stager.Stage(context.Background(), "u1", "t1", stageWallet)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Empty(t, submitter.sent, "no cancel is sent for a pending trade")
	assert.Equal(t, []string{"prepare:" + stageAccount}, builder.calls)

	got, _ := trades.Get("u1", "t1")
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Empty(t, notifier.all())
}
