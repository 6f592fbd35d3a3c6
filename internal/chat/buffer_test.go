package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AddAndGetOrderIndependent(t *testing.T) {
	mb := NewMessageBuffer()

	mb.Add("a", "b", BufferedMessage{From: "a", Text: "hello", Ts: 1})
	mb.Add("b", "a", BufferedMessage{From: "b", Text: "hi", Ts: 2})

	msgs := mb.Get("b", "a")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "hi", msgs[1].Text)
}

func TestBuffer_Wraparound(t *testing.T) {
	mb := NewMessageBuffer()
	for i := 1; i <= 7; i++ {
		mb.Add("a", "b", BufferedMessage{From: "a", Text: fmt.Sprintf("msg-%d", i), Ts: int64(i)})
	}

	msgs := mb.Get("a", "b")
	require.Len(t, msgs, MaxBufferMessages)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+3), m.Text)
	}
}

func TestBuffer_ExactlyFull(t *testing.T) {
	mb := NewMessageBuffer()
	for i := 1; i <= MaxBufferMessages; i++ {
		mb.Add("a", "b", BufferedMessage{Text: fmt.Sprintf("msg-%d", i)})
	}
	msgs := mb.Get("a", "b")
	require.Len(t, msgs, MaxBufferMessages)
	assert.Equal(t, "msg-1", msgs[0].Text)
	assert.Equal(t, fmt.Sprintf("msg-%d", MaxBufferMessages), msgs[MaxBufferMessages-1].Text)
}

func TestBuffer_MissingPairIsEmptyNotNil(t *testing.T) {
	msgs := NewMessageBuffer().Get("x", "y")
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestBuffer_Remove(t *testing.T) {
	mb := NewMessageBuffer()
	mb.Add("a", "b", BufferedMessage{Text: "x"})
	mb.Add("a", "c", BufferedMessage{Text: "y"})
	mb.Add("c", "d", BufferedMessage{Text: "z"})

	mb.Remove("b", "a")
	assert.Empty(t, mb.Get("a", "b"))
	assert.Equal(t, 2, mb.Len())

	mb.RemoveSession("c")
	assert.Equal(t, 0, mb.Len())

	mb.Remove("nope", "none")
}

func TestBuffer_ConcurrentAccess(t *testing.T) {
	mb := NewMessageBuffer()
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			other := fmt.Sprintf("s%d", g%3)
			for i := 0; i < 100; i++ {
				mb.Add("hub", other, BufferedMessage{Text: "m"})
				_ = mb.Get(other, "hub")
			}
		}(g)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		assert.Len(t, mb.Get("hub", fmt.Sprintf("s%d", i)), MaxBufferMessages)
	}
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("hey there"))
	assert.Error(t, ValidateMessage(""))
	assert.Error(t, ValidateMessage("   "))
	assert.Error(t, ValidateMessage(string([]byte{0xff, 0xfe})))

	long := make([]rune, MaxTextChars+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateMessage(string(long)))

	var big []byte
	for len(big) <= MaxMessageBytes {
		big = append(big, "é"...)
	}
	assert.Error(t, ValidateMessage(string(big)))
}
