package runtime

import (
	"chatter/domain"
	"chatter/wire"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_On_Replaces_Handler(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	var got []string

	registry.On(wire.EventNewMessage, func(wire.Frame) { got = append(got, "first") })
	registry.On(wire.EventNewMessage, func(wire.Frame) { got = append(got, "second") })

	registry.Handler(wire.EventNewMessage)(wire.Frame{})
	req.Equal([]string{"second"}, got)
	req.Equal(1, registry.Len())
}

func TestRegistry_Stale_Disposer_Keeps_New_Handler(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	// Given a handler replaced by a newer one
	dispose := registry.On(wire.EventSendError, func(wire.Frame) {})
	registry.On(wire.EventSendError, func(wire.Frame) {})

	// When the first disposer runs, twice
	dispose()
	dispose()

	// Then the newer handler is still there
	req.NotNil(registry.Handler(wire.EventSendError))
}

func TestRegistry_Watchers_In_Registration_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	var got []int

	registry.OnStateChange(func(domain.StateChange) { got = append(got, 1) })
	dispose := registry.OnStateChange(func(domain.StateChange) { got = append(got, 2) })
	registry.OnStateChange(func(domain.StateChange) { got = append(got, 3) })
	dispose()

	for _, watcher := range registry.Watchers() {
		watcher(domain.StateChange{})
	}
	req.Equal([]int{1, 3}, got)
	req.Nil(registry.Handler(wire.EventJoin))
}
