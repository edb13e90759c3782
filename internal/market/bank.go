package market

import (
	"errors"
	"sync"

	"shopsync/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// BankPublisher broadcasts local balance changes.
type BankPublisher interface {
	PublishBankUpsert(b model.Bank)
}

// BankLedger holds the per-currency chest bank balances of shop owners.
// Arithmetic is done in decimal so repeated deposits do not drift.
type BankLedger struct {
	mu        sync.RWMutex
	balances  map[uuid.UUID]map[string]decimal.Decimal
	pubMu     sync.RWMutex
	publisher BankPublisher
	logger    zerolog.Logger
}

// NewBankLedger creates an empty ledger. publisher may be nil.
func NewBankLedger(publisher BankPublisher, logger zerolog.Logger) *BankLedger {
	return &BankLedger{
		balances:  make(map[uuid.UUID]map[string]decimal.Decimal),
		publisher: publisher,
		logger:    logger,
	}
}

// SetPublisher replaces the publisher. It is set once the transport exists.
func (l *BankLedger) SetPublisher(p BankPublisher) {
	l.pubMu.Lock()
	l.publisher = p
	l.pubMu.Unlock()
}

// Balance returns the balance of holder in currency.
func (l *BankLedger) Balance(holder uuid.UUID, currency string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holder][currency].InexactFloat64()
}

// Bank returns a copy of all balances of holder.
func (l *BankLedger) Bank(holder uuid.UUID) model.Bank {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot(holder)
}

func (l *BankLedger) snapshot(holder uuid.UUID) model.Bank {
	out := model.Bank{Holder: holder, Balances: make(map[string]float64, len(l.balances[holder]))}
	for currency, v := range l.balances[holder] {
		out.Balances[currency] = v.InexactFloat64()
	}
	return out
}

// Deposit adds amount to the balance and returns the new balance.
func (l *BankLedger) Deposit(holder uuid.UUID, currency string, amount float64) (float64, error) {
	return l.change(holder, currency, amount, false)
}

// Withdraw removes amount from the balance and returns the new balance.
func (l *BankLedger) Withdraw(holder uuid.UUID, currency string, amount float64) (float64, error) {
	return l.change(holder, currency, amount, true)
}

func (l *BankLedger) change(holder uuid.UUID, currency string, amount float64, withdraw bool) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	delta := decimal.NewFromFloat(amount)

	l.mu.Lock()
	accounts, ok := l.balances[holder]
	if !ok {
		accounts = make(map[string]decimal.Decimal)
		l.balances[holder] = accounts
	}
	current := accounts[currency]
	if withdraw {
		if current.LessThan(delta) {
			l.mu.Unlock()
			return current.InexactFloat64(), ErrInsufficientFunds
		}
		delta = delta.Neg()
	}
	next := current.Add(delta)
	accounts[currency] = next
	bank := l.snapshot(holder)
	l.mu.Unlock()

	l.pubMu.RLock()
	p := l.publisher
	l.pubMu.RUnlock()
	if p != nil {
		p.PublishBankUpsert(bank)
	}
	return next.InexactFloat64(), nil
}

// ApplyBank replaces the balances of a holder with a remote copy.
func (l *BankLedger) ApplyBank(b model.Bank) {
	accounts := make(map[string]decimal.Decimal, len(b.Balances))
	for currency, v := range b.Balances {
		accounts[currency] = decimal.NewFromFloat(v)
	}

	l.mu.Lock()
	l.balances[b.Holder] = accounts
	l.mu.Unlock()

	l.logger.Debug().Str("holder", b.Holder.String()).Int("currencies", len(accounts)).Msg("applied remote bank")
}

// Holders returns the number of holders with a bank.
func (l *BankLedger) Holders() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}
