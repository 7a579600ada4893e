package services

import "sync"

// accountTokens is the per-account mutual-exclusion token. A token is held
// by one job id (or a sync) from submission until a terminal state.
type accountTokens struct {
	mu   sync.Mutex
	held map[string]string
}

func newAccountTokens() *accountTokens {
	return &accountTokens{held: make(map[string]string)}
}

// acquire takes the account's token for holder. When the token is taken it
// returns the current holder and false.
func (t *accountTokens) acquire(accountID, holder string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.held[accountID]; ok {
		return cur, false
	}
	t.held[accountID] = holder
	return holder, true
}

// release frees the token if holder still owns it.
func (t *accountTokens) release(accountID, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[accountID] == holder {
		delete(t.held, accountID)
	}
}

func (t *accountTokens) holder(accountID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.held[accountID]
	return h, ok
}
