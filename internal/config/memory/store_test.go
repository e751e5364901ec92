package memory

import (
	"testing"

	"gastrolog/internal/config"
	"gastrolog/internal/config/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) config.Store {
		return NewStore()
	})
}
