package memstore

import (
	"testing"

	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
