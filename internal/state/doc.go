// Package state provides the SQLite-backed assistant store and the
// file-backed schedule store.
package state

import (
	"github.com/rarehotdog/pjt.mayhem/internal/ledger"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// Compile-time interface compliance checks.
var _ ledger.Repository = (*Store)(nil)
var _ types.UserStore = (*Store)(nil)
var _ types.ThreadStore = (*Store)(nil)
var _ types.MessageStore = (*Store)(nil)
var _ types.ReminderStore = (*Store)(nil)
var _ types.JobStore = (*Store)(nil)
var _ types.ApprovalStore = (*Store)(nil)
var _ types.CostStore = (*Store)(nil)
