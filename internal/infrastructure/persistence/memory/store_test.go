package memory

import (
	"testing"

	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Repositories {
		s := NewStore()
		return storetest.Repositories{Ledger: s.Ledger, Stats: s.Stats, Habits: s.Habits, Logs: s.Logs}
	})
}
