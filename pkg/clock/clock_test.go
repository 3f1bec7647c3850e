package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/stretchr/testify/assert"
)

func Test_Fake_SleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	assert.NoError(t, fake.Sleep(context.Background(), time.Second*10))
	fake.Advance(time.Second)
	assert.Equal(t, start.Add(time.Second*11), fake.Now())
	assert.Equal(t, []time.Duration{time.Second * 10}, fake.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fake.Sleep(ctx, time.Second), context.Canceled)
	assert.Len(t, fake.Sleeps(), 1)
}

func Test_Real_SleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	begin := time.Now()
	assert.ErrorIs(t, clock.Real().Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(begin), time.Second)
}
