package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"heads-or-tails/models"
	"heads-or-tails/registry"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu       sync.Mutex
	failNext int
	applied  map[string]ledgerTransfer
	keys     []string
}

func (l *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.URL.Path != "/api/v1/transfers" || r.Header.Get("X-Service-Token") != "ledger-token" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if l.failNext > 0 {
		l.failNext--
		http.Error(w, "ledger busy", http.StatusServiceUnavailable)
		return
	}
	var t ledgerTransfer
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	l.keys = append(l.keys, key)
	if _, dup := l.applied[key]; dup {
		w.WriteHeader(http.StatusConflict)
		return
	}
	l.applied[key] = t
	w.WriteHeader(http.StatusCreated)
}

func queue(t *testing.T, reg registry.Registry, ts ...models.Transfer) {
	require.NoError(t, reg.Atomic(context.Background(), func(tx registry.Tx) error {
		for i := range ts {
			if err := tx.QueueTransfer(&ts[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestDispatchPendingDeliversAndRetries(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{applied: map[string]ledgerTransfer{}, failNext: 1}
	srv := httptest.NewServer(ledger)
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	reg := registry.NewMemoryRegistry(clock)
	queue(t, reg,
		models.Transfer{GameID: 1, Kind: models.TransferRefund, Recipient: "bob", Amount: 5},
		models.Transfer{GameID: 1, Kind: models.TransferPot, Recipient: "alice", Amount: 20},
	)

	d := NewTransferDispatcher(reg, NewLedgerClient(srv.URL+"/", "ledger-token", time.Second), clock, time.Minute, 10)

	sent, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	pending, err := reg.PendingTransfers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.TransferRefund, pending[0].Kind)
	assert.Contains(t, pending[0].LastError, "503")

	sent, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	pending, err = reg.PendingTransfers(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ts, err := reg.Transfers(ctx, 1)
	require.NoError(t, err)
	for _, tr := range ts {
		assert.Equal(t, models.TransferSent, tr.Status)
		require.Contains(t, ledger.applied, tr.ID)
		got := ledger.applied[tr.ID]
		assert.Equal(t, tr.Recipient, got.Recipient)
		assert.Equal(t, tr.Amount, got.Amount)
		assert.Equal(t, string(tr.Kind), got.Kind)
	}
}

func TestLedgerClientTreatsReplayAsDelivered(t *testing.T) {
	ledger := &fakeLedger{applied: map[string]ledgerTransfer{}}
	srv := httptest.NewServer(ledger)
	defer srv.Close()

	c := NewLedgerClient(srv.URL, "ledger-token", time.Second)
	tr := models.Transfer{ID: "7d1c7a36-5a4b-4c55-9d55-1c8d9d0f1a11", GameID: 3, Kind: models.TransferPot, Recipient: "bob", Amount: 2}
	require.NoError(t, c.Send(context.Background(), tr))
	require.NoError(t, c.Send(context.Background(), tr))
	assert.Len(t, ledger.applied, 1)
	assert.Equal(t, []string{tr.ID, tr.ID}, ledger.keys)

	bad := NewLedgerClient(srv.URL, "wrong", time.Second)
	assert.Error(t, bad.Send(context.Background(), tr))
}

func TestRunDrainsOnWake(t *testing.T) {
	ledger := &fakeLedger{applied: map[string]ledgerTransfer{}}
	srv := httptest.NewServer(ledger)
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	reg := registry.NewMemoryRegistry(clock)
	d := NewTransferDispatcher(reg, NewLedgerClient(srv.URL, "ledger-token", time.Second), clock, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	queue(t, reg, models.Transfer{GameID: 9, Kind: models.TransferPot, Recipient: "alice", Amount: 4})
	d.Wake()

	require.Eventually(t, func() bool {
		pending, err := reg.PendingTransfers(context.Background(), 0)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

// rejectingSender fails every transfer addressed to one recipient.
type rejectingSender struct {
	recipient string
	delivered []string
}

func (s *rejectingSender) Send(ctx context.Context, t models.Transfer) error {
	if t.Recipient == s.recipient {
		return errors.New("account frozen")
	}
	s.delivered = append(s.delivered, t.Recipient)
	return nil
}

func TestDispatchPendingNotBlockedByRejectedTransfer(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	reg := registry.NewMemoryRegistry(clock)
	queue(t, reg, models.Transfer{GameID: 1, Kind: models.TransferPot, Recipient: "frozen", Amount: 20})
	queue(t, reg, models.Transfer{GameID: 2, Kind: models.TransferPot, Recipient: "alice", Amount: 20})

	sender := &rejectingSender{recipient: "frozen"}
	d := NewTransferDispatcher(reg, sender, clock, time.Minute, 1)
	for i := 0; i < 3; i++ {
		_, err := d.DispatchPending(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alice"}, sender.delivered)
	ts, err := reg.Transfers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, models.TransferSent, ts[0].Status)

	pending, err := reg.PendingTransfers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "frozen", pending[0].Recipient)
	assert.Equal(t, 2, pending[0].Attempts)
}
