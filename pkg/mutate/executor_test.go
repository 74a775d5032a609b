package mutate

import (
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/stretchr/testify/assert"
)

func TestExecutor_SerializesConcurrentSubmissions(t *testing.T) {
	var mu sync.Mutex
	var order []string

	exec := NewExecutor(func(commandID string, key string, args []string, in *envelope.Inbound) (any, string, error) {
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, "", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = exec.Submit("cmd", "issue close", nil, &envelope.Inbound{})
		}()
	}
	wg.Wait()

	assert.Len(t, order, 5)
}

func TestExecutor_ReturnsHandlerResult(t *testing.T) {
	exec := NewExecutor(func(commandID string, key string, args []string, in *envelope.Inbound) (any, string, error) {
		return map[string]any{"ok": true}, "", nil
	})

	result, errCode, err := exec.Submit("cmd", "issue close", nil, &envelope.Inbound{})
	assert.NoError(t, err)
	assert.Equal(t, "", errCode)
	assert.Equal(t, map[string]any{"ok": true}, result)
}
