package history

import (
	"testing"

	"github.com/comigor/floatchat-go/internal/visualization"

	"github.com/stretchr/testify/require"
)

func TestBroker_PublishToScope(t *testing.T) {
	b := NewBroker[int]()

	var a, other [][]int
	unsubA := b.Subscribe("u1", func(items []int) { a = append(a, items) })
	b.Subscribe("u2", func(items []int) { other = append(other, items) })

	require.True(t, b.Active("u1"))
	b.Publish("u1", []int{1, 2})
	require.Equal(t, [][]int{{1, 2}}, a)
	require.Empty(t, other)

	unsubA()
	unsubA()
	require.False(t, b.Active("u1"))
	b.Publish("u1", []int{3})
	require.Len(t, a, 1)
}

func TestBroker_SnapshotsAreCopies(t *testing.T) {
	b := NewBroker[int]()
	var got []int
	b.Subscribe("s", func(items []int) { got = items })

	src := []int{1, 2, 3}
	b.Publish("s", src)
	src[0] = 99
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestBroker_ListenerMayUnsubscribeItself(t *testing.T) {
	b := NewBroker[int]()
	var unsub Unsubscribe
	calls := 0
	unsub = b.Subscribe("s", func([]int) {
		calls++
		unsub()
	})
	b.Publish("s", nil)
	b.Publish("s", nil)
	require.Equal(t, 1, calls)
}

func TestConversationWithDefaults(t *testing.T) {
	c := Conversation{ID: "abc"}.WithDefaults()
	require.Equal(t, "Chat abc", c.Title)
	require.Equal(t, "No messages yet", c.LastMessage)

	c = Conversation{ID: "abc", Title: "Gulf", LastMessage: "warm"}.WithDefaults()
	require.Equal(t, "Gulf", c.Title)
	require.Equal(t, "warm", c.LastMessage)
}

func TestLatestVisualization(t *testing.T) {
	first := &visualization.Visualization{IsValidQuery: true, Summary: "first"}
	second := &visualization.Visualization{IsValidQuery: true, Summary: "second"}

	require.Nil(t, LatestVisualization(nil))
	require.Same(t, second, LatestVisualization([]Message{
		{Role: RoleAssistant, Visualization: first},
		{Role: RoleAssistant, Visualization: second},
		{Role: RoleAssistant, Content: "off topic"},
	}))
}
