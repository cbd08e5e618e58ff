// Copyright 2025 OpenTCR Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"fmt"
	"sync"
)

// Ledger is the fungible-balance adapter consumed by the registry and
// governance engines. Debits can fail on insufficient funds; credits are
// infallible. Implementations must be safe for concurrent use.
type Ledger interface {
	Debit(account string, amount uint64) error
	Credit(account string, amount uint64)
	BalanceOf(account string) uint64
}

type InsufficientFundsError struct {
	Account string
	Balance uint64
	Amount  uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"insufficient funds: account=%s balance=%d requested=%d",
		e.Account,
		e.Balance,
		e.Amount,
	)
}

// TokenLedger is an in-memory Ledger backed by a mutex-guarded balance map.
// It exists for single-process deployments and tests; production deployments
// substitute an adapter over their own balance store.
type TokenLedger struct {
	balances map[string]uint64
	mu       sync.RWMutex
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances: make(map[string]uint64),
	}
}

// Mint credits newly issued tokens to an account
func (l *TokenLedger) Mint(account string, amount uint64) {
	l.Credit(account, amount)
}

func (l *TokenLedger) Debit(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[account]
	if balance < amount {
		return &InsufficientFundsError{
			Account: account,
			Balance: balance,
			Amount:  amount,
		}
	}
	l.balances[account] = balance - amount
	return nil
}

func (l *TokenLedger) Credit(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *TokenLedger) BalanceOf(account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// Transfer moves tokens between accounts, failing if the source balance
// is insufficient. The debit and credit are applied under a single lock.
func (l *TokenLedger) Transfer(from, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[from]
	if balance < amount {
		return &InsufficientFundsError{
			Account: from,
			Balance: balance,
			Amount:  amount,
		}
	}
	l.balances[from] = balance - amount
	l.balances[to] += amount
	return nil
}

// TotalSupply sums all account balances. Used by tests to assert stake
// conservation across challenge resolution.
func (l *TokenLedger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, balance := range l.balances {
		total += balance
	}
	return total
}
