package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapEvent(t *testing.T) {
	boom := errors.New("boom")
	f := fsm.NewFSM("a",
		fsm.Events{{Name: "go", Src: []string{"a"}, Dst: "b"}},
		fsm.Callbacks{
			"after_go": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	err := f.Event(context.Background(), "go")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "b", f.Current())
}

func TestTransitionErrors(t *testing.T) {
	f := fsm.NewFSM("a",
		fsm.Events{
			{Name: "go", Src: []string{"a"}, Dst: "b"},
			{Name: "stay", Src: []string{"a"}, Dst: "a"},
		},
		fsm.Callbacks{},
	)

	err := f.Event(context.Background(), "stay")
	assert.True(t, IsNoTransition(err))
	assert.False(t, IsInvalidTransition(err))

	require.NoError(t, f.Event(context.Background(), "go"))
	err = f.Event(context.Background(), "go")
	assert.True(t, IsInvalidTransition(err))
	assert.False(t, IsNoTransition(nil))
}
