package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zerg-labs/zerg-core/internal/db"
)

func TestState_RecordOutputIsConcurrencySafe(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordOutput(string(rune('a'+id%26)), db.NodeEnvelope{Value: id})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(s.CompletedNodes()), 26)
}

func TestState_RecordErrorKeepsFirst(t *testing.T) {
	s := NewState()
	first := errors.New("first")
	second := errors.New("second")

	s.RecordError(first)
	s.RecordError(second)

	assert.Equal(t, first, s.FirstError())
}

func TestState_RecordErrorIgnoresNil(t *testing.T) {
	s := NewState()
	s.RecordError(nil)
	assert.Nil(t, s.FirstError())
}

func TestState_OutputsIsASnapshot(t *testing.T) {
	s := NewState()
	s.RecordOutput("a", db.NodeEnvelope{Value: 1})

	snap := s.Outputs()
	snap["a"] = db.NodeEnvelope{Value: 999}

	assert.Equal(t, 1, s.Outputs()["a"].Value)
}
