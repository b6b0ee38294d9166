package output

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cheeznad/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readLines 读取目录中某类事件文件的所有行
func readLines(t *testing.T, dir string, typ models.EventType) []map[string]interface{} {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, string(typ)+"_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, quietLogger())
	require.NoError(t, err)

	require.NoError(t, sink.Write(models.NewRoundStartEvent(&models.RoundStartData{
		RoundNumber: 7,
		Multipliers: models.NeutralMultipliers(),
	})))
	require.NoError(t, sink.Write(models.NewBettingClosedEvent(7)))
	require.NoError(t, sink.Write(models.NewBettingClosedEvent(8)))
	require.NoError(t, sink.Write(nil))

	starts := readLines(t, dir, models.EventRoundStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "round_start", starts[0]["type"])
	data := starts[0]["data"].(map[string]interface{})
	assert.Equal(t, float64(7), data["roundNumber"])

	closed := readLines(t, dir, models.EventBettingClosed)
	assert.Len(t, closed, 2)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Error(t, sink.Write(models.NewBettingClosedEvent(9)))
}

func TestAsyncFileSink_FlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	sink, err := newAsyncFileSink(dir, quietLogger(), 1000, time.Hour)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, sink.Write(models.NewBettingClosedEvent(i)))
	}
	require.NoError(t, sink.Close())

	lines := readLines(t, dir, models.EventBettingClosed)
	require.Len(t, lines, 5)
	for i, line := range lines {
		data := line["data"].(map[string]interface{})
		assert.Equal(t, float64(i+1), data["roundNumber"])
	}

	assert.Error(t, sink.Write(models.NewBettingClosedEvent(6)))
}

func TestAsyncFileSink_FlushesOnBatch(t *testing.T) {
	dir := t.TempDir()
	sink, err := newAsyncFileSink(dir, quietLogger(), 2, time.Hour)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(models.NewBettingClosedEvent(1)))
	require.NoError(t, sink.Write(models.NewBettingClosedEvent(2)))

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(dir, "betting_closed_*.json"))
		if len(matches) != 1 {
			return false
		}
		info, err := os.Stat(matches[0])
		return err == nil && info.Size() > 0
	}, time.Second, 5*time.Millisecond)
}
