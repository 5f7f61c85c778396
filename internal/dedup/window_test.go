package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindow_InsertReportsNewIDs(t *testing.T) {
	req := require.New(t)
	w, err := New(3)
	req.NoError(err)

	req.True(w.Insert("a"))
	req.False(w.Insert("a"))
	req.True(w.Contains("a"))
	req.False(w.Contains("b"))
	req.Equal(1, w.Len())
}

func TestWindow_RetainsMostRecentInInsertionOrder(t *testing.T) {
	req := require.New(t)
	w, err := New(DefaultCapacity)
	req.NoError(err)

	total := DefaultCapacity + 137
	for i := 0; i < total; i++ {
		req.True(w.Insert(fmt.Sprintf("id-%d", i)))
	}

	req.Equal(DefaultCapacity, w.Len())
	ids := w.IDs()
	req.Len(ids, DefaultCapacity)
	for i, id := range ids {
		req.Equal(fmt.Sprintf("id-%d", total-DefaultCapacity+i), id)
	}
	req.False(w.Contains("id-0"))
	req.False(w.Contains(fmt.Sprintf("id-%d", total-DefaultCapacity-1)))
}

func TestWindow_ReinsertDoesNotRefresh(t *testing.T) {
	req := require.New(t)
	w, err := New(3)
	req.NoError(err)

	w.Insert("a")
	w.Insert("b")
	w.Insert("c")

	// "a" is re-seen but must still be the first to go
	req.False(w.Insert("a"))
	req.True(w.Insert("d"))

	req.Equal([]string{"b", "c", "d"}, w.IDs())
	req.False(w.Contains("a"))
}

func TestNew_RejectsInvalidCapacity(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
}
