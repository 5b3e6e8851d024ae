package memory

import (
	"testing"

	"creatorhub/internal/adapter/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return New()
	})
}
