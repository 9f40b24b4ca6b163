/*
notifier.go - Balance change notification sink

PURPOSE:
  Default Notifier implementation: logs every balance change. A real
  deployment would swap in email/push/webhook delivery; the engine only
  sees the ledger.Notifier interface and fires it after commit, so a
  failing sink can never affect a committed award.
*/
package api

import (
	"log"

	"github.com/meridian/loyalty-engine/ledger"
)

// LogNotifier writes balance change events to the process log.
type LogNotifier struct {
	Logger *log.Logger // optional
}

func (n *LogNotifier) BalanceChanged(evt ledger.BalanceEvent) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Notify] account %d: %+d points (%s), balance now %d",
		evt.AccountID, evt.Delta, evt.Reason, evt.NewBalance)
	return nil
}
