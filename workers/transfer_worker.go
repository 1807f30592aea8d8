package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"heads-or-tails/logging"
	"heads-or-tails/models"
	"heads-or-tails/registry"
	"heads-or-tails/utils"

	"github.com/inconshreveable/log15"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// TransferSender delivers one outbox entry to the ledger. Implementations must
// be safe to call again for an entry that was already delivered.
type TransferSender interface {
	Send(ctx context.Context, t models.Transfer) error
}

// LedgerClient talks to the ledger service that actually moves funds.
type LedgerClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewLedgerClient(baseURL, token string, timeout time.Duration) *LedgerClient {
	return &LedgerClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: utils.NewHTTPClient(timeout),
	}
}

type ledgerTransfer struct {
	ID        string `json:"id"`
	GameID    uint64 `json:"game_id"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// Send POSTs the transfer. The transfer id doubles as the idempotency key, so
// a retry after a lost response is applied once by the ledger.
func (c *LedgerClient) Send(ctx context.Context, t models.Transfer) error {
	body, err := json.Marshal(ledgerTransfer{
		ID:        t.ID,
		GameID:    t.GameID,
		Kind:      string(t.Kind),
		Recipient: t.Recipient,
		Amount:    t.Amount,
	})
	if err != nil {
		return errors.Wrap(err, "encode transfer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)
	req.Header.Set("Idempotency-Key", t.ID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "call ledger")
	}
	defer resp.Body.Close()

	// 409: the ledger already has this idempotency key
	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return errors.Errorf("ledger returned status %d: %s", resp.StatusCode, string(msg))
}

// TransferDispatcher drains the transfer outbox. Entries are retried on every
// tick until the ledger accepts them, so delivery is at least once.
type TransferDispatcher struct {
	Registry  registry.Registry
	Sender    TransferSender
	Clock     clockwork.Clock
	Interval  time.Duration
	BatchSize int

	wake chan struct{}
	log  log15.Logger
}

func NewTransferDispatcher(reg registry.Registry, sender TransferSender, clock clockwork.Clock, interval time.Duration, batch int) *TransferDispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &TransferDispatcher{
		Registry:  reg,
		Sender:    sender,
		Clock:     clock,
		Interval:  interval,
		BatchSize: batch,
		wake:      make(chan struct{}, 1),
		log:       logging.New("module", "workers.transfers"),
	}
}

// Wake asks Run for an immediate pass. It never blocks.
func (d *TransferDispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// DispatchPending sends one batch of pending transfers and reports how many
// the ledger accepted.
func (d *TransferDispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.Registry.PendingTransfers(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, t := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := d.Sender.Send(ctx, t); err != nil {
			d.log.Warn("transfer not delivered", "id", t.ID, "game", t.GameID, "kind", t.Kind, "attempt", t.Attempts+1, "err", err)
			if merr := d.Registry.MarkTransferFailed(ctx, t.ID, err.Error()); merr != nil {
				return sent, merr
			}
			continue
		}
		if err := d.Registry.MarkTransferSent(ctx, t.ID, d.Clock.Now().UTC()); err != nil {
			return sent, err
		}
		sent++
		d.log.Info("transfer delivered", "id", t.ID, "game", t.GameID, "kind", t.Kind, "recipient", t.Recipient, "amount", t.Amount)
	}
	return sent, nil
}

// Run dispatches on every tick and on Wake until ctx is done.
func (d *TransferDispatcher) Run(ctx context.Context) {
	d.log.Info("transfer dispatcher started", "interval", d.Interval)
	ticker := d.Clock.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("dispatch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			d.log.Info("transfer dispatcher stopped")
			return
		case <-ticker.Chan():
		case <-d.wake:
		}
	}
}
