package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/store"
)

func stubExit(t *testing.T) *int {
	t.Helper()
	code := -1
	prev := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() {
		exit = prev
		cleanups = nil
	})
	return &code
}

func TestExitErrRunsCleanups(t *testing.T) {
	code := stubExit(t)
	var order []string
	onExit(func() { order = append(order, "first") })
	onExit(func() { order = append(order, "second") })

	exitErr("plan", errors.New("boom"))

	assert.Equal(t, 1, *code)
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Empty(t, cleanups)
}

type closeCounter struct {
	store.Store
	n int
}

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestAppCloseOnceOnExit(t *testing.T) {
	code := stubExit(t)
	st := &closeCounter{Store: store.NewMemStore()}
	a := &app{log: logger.Nop(), store: st}
	onExit(a.Close)

	exitErr("schedule", errors.New("boom"))
	a.Close()

	require.Equal(t, 1, *code)
	assert.Equal(t, 1, st.n)
}
