package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/listinglab/pagepull/internal/fetch"
)

func TestStatusBoard_UpdateAndSnapshot(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard()
	b.Update("w-b", fetch.WorkerRunning, 3, 10)
	b.Update("w-a", fetch.WorkerStarting, 0, 10)

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "w-a", snap[0].ID)
	require.Equal(t, "w-b", snap[1].ID)
	require.Equal(t, fetch.WorkerRunning, snap[1].State)
	require.Equal(t, 3, snap[1].ProgressIndex)
	require.Equal(t, 10, snap[1].BatchSize)
	require.False(t, snap[0].UpdatedAt.IsZero())
}

func TestStatusBoard_UpdateOverwrites(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard()
	b.Update("w-a", fetch.WorkerRunning, 1, 5)
	b.Update("w-a", fetch.WorkerFinished, 5, 5)

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, fetch.WorkerFinished, snap[0].State)
	require.Equal(t, 5, snap[0].ProgressIndex)
}

func TestStatusBoard_Reset(t *testing.T) {
	t.Parallel()

	b := NewStatusBoard()
	b.Update("w-a", fetch.WorkerRunning, 1, 5)
	b.Reset()
	require.Empty(t, b.Snapshot())
}
