package store

import (
	"time"

	"github.com/gridbase/gridbase/internal/model"
)

// UpsertBot replaces the stored copy of a bot, or appends it when new.
func (s *Store) UpsertBot(bot model.BotInstance) error {
	bot.LastUpdated = time.Now()
	return s.Update(func(doc *Document) {
		for i := range doc.Bots {
			if doc.Bots[i].ID == bot.ID {
				doc.Bots[i] = bot
				return
			}
		}
		doc.Bots = append(doc.Bots, bot)
	})
}

// DeleteBot removes a bot by id. Its trade history is kept.
func (s *Store) DeleteBot(id string) error {
	return s.Update(func(doc *Document) {
		for i := range doc.Bots {
			if doc.Bots[i].ID == id {
				doc.Bots = append(doc.Bots[:i], doc.Bots[i+1:]...)
				return
			}
		}
	})
}

// AppendTrade adds one record to the trade log.
func (s *Store) AppendTrade(trade model.TradeRecord) error {
	return s.Update(func(doc *Document) {
		doc.Trades = append(doc.Trades, trade)
	})
}

// SaveBreaker persists the circuit breaker state.
func (s *Store) SaveBreaker(state model.CircuitBreakerState) error {
	return s.Update(func(doc *Document) {
		doc.CircuitBreaker = state
	})
}

// PutWallet stores an encrypted wallet entry. The first wallet ever stored
// becomes the primary unless one is already set.
func (s *Store) PutWallet(id string, entry model.WalletEntry) error {
	return s.Update(func(doc *Document) {
		doc.WalletDictionary[id] = entry
		if doc.PrimaryWalletID == "" {
			doc.PrimaryWalletID = id
		}
	})
}

// SetPrimaryWallet changes which wallet signs for useMainWallet bots.
func (s *Store) SetPrimaryWallet(id string) error {
	return s.Update(func(doc *Document) {
		if _, ok := doc.WalletDictionary[id]; ok {
			doc.PrimaryWalletID = id
		}
	})
}
