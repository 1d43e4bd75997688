package memory_test

import (
	"testing"

	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/memory"
	"github.com/cyp0633/librecur/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store[storetest.Item] {
		return memory.New(storetest.Fields)
	})
}
