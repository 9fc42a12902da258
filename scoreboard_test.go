package immortals

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetLoss(t *testing.T) {
	for _, tc := range [...]struct {
		damage int
		want   int64
	}{
		{-5, 0},
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 2},
		{10, 5},
		{11, 6},
		{12, 6},
	} {
		assert.Equal(t, tc.want, NetLoss(tc.damage), `damage=%d`, tc.damage)
	}
}

func TestScoreBoard_RecordFight(t *testing.T) {
	var sb ScoreBoard
	assert.Zero(t, sb.TotalFights())
	assert.Zero(t, sb.TotalNetLoss())

	sb.RecordFight(0)
	sb.RecordFight(-3)
	assert.Zero(t, sb.TotalFights())
	assert.Zero(t, sb.TotalNetLoss())

	sb.RecordFight(12)
	sb.RecordFight(12)
	assert.Equal(t, int64(2), sb.TotalFights())
	assert.Equal(t, int64(12), sb.TotalNetLoss())
	assert.Equal(t, int64(180-12), 180-sb.TotalNetLoss())
}

func TestScoreBoard_concurrent(t *testing.T) {
	var (
		sb ScoreBoard
		wg sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				sb.RecordFight(3)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(16000), sb.TotalFights())
	assert.Equal(t, int64(32000), sb.TotalNetLoss())
}
