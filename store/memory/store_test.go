package memory

import (
	"testing"

	"github.com/sky93/jobqueue"
	"github.com/sky93/jobqueue/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) jobqueue.Store {
		return New()
	})
}
