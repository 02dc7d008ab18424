package distribution

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)

func point(minute int, v float64) models.IndicatorPoint {
	return models.IndicatorPoint{
		Time:   t0.Add(time.Duration(minute) * time.Minute),
		Values: models.Values{"value": models.Number(v)},
	}
}

func update(id string, points ...models.IndicatorPoint) models.IndicatorUpdate {
	return models.IndicatorUpdate{IndicatorID: id, Points: points}
}

func startChannel(t *testing.T, config Config) *Channel {
	t.Helper()
	ch := NewChannel(config)
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(ch.Stop)
	return ch
}

func flush(t *testing.T, ch *Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Flush(ctx))
}

func TestChannel_OverflowDropsOldest(t *testing.T) {
	ch := NewChannel(Config{Capacity: 1000})

	var events []ErrorEvent
	ch.OnError(func(ev ErrorEvent) { events = append(events, ev) })

	for i := 0; i < 1001; i++ {
		require.NoError(t, ch.Publish(update("sma", point(i, float64(i)))))
	}

	assert.Equal(t, uint64(1), ch.Dropped())
	assert.Equal(t, 1000, ch.Pending())
	require.Len(t, events, 1)
	assert.Equal(t, KindOverflow, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, models.ErrQueueOverflow)
	assert.True(t, t0.Equal(events[0].Update.Points[0].Time))

	var got []time.Time
	ch.Subscribe(func(u models.IndicatorUpdate) error {
		got = append(got, u.Points[0].Time)
		return nil
	})
	flush(t, ch)
	require.Len(t, got, 1000)
	assert.True(t, t0.Add(time.Minute).Equal(got[0]))
}

func TestChannel_DeliversInOrder(t *testing.T) {
	ch := startChannel(t, DefaultConfig())

	var mu sync.Mutex
	var got []string
	ch.Subscribe(func(u models.IndicatorUpdate) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u.IndicatorID+"@"+u.Points[0].Time.Format("15:04"))
		return nil
	})

	var want []string
	for i := 0; i < 50; i++ {
		id := []string{"a", "b", "c"}[i%3]
		require.NoError(t, ch.Publish(update(id, point(i, float64(i)))))
		want = append(want, id+"@"+t0.Add(time.Duration(i)*time.Minute).Format("15:04"))
	}
	flush(t, ch)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
	assert.Equal(t, 0, ch.Pending())
}

func TestChannel_SubscriberPanicIsIsolated(t *testing.T) {
	ch := startChannel(t, DefaultConfig())

	var mu sync.Mutex
	delivered := 0
	var failures []ErrorEvent
	ch.Subscribe(func(models.IndicatorUpdate) error { panic("boom") })
	ch.Subscribe(func(models.IndicatorUpdate) error { return errors.New("sink down") })
	ch.Subscribe(func(models.IndicatorUpdate) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	ch.OnError(func(ev ErrorEvent) {
		mu.Lock()
		failures = append(failures, ev)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, ch.Publish(update("rsi", point(i, 50))))
	}
	flush(t, ch)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, delivered)
	require.Len(t, failures, 6)
	for _, ev := range failures {
		assert.Equal(t, KindSubscriber, ev.Kind)
	}
}

func TestChannel_Unsubscribe(t *testing.T) {
	ch := startChannel(t, DefaultConfig())

	count := 0
	unsubscribe := ch.Subscribe(func(models.IndicatorUpdate) error {
		count++
		return nil
	})
	require.NoError(t, ch.Publish(update("x", point(0, 1))))
	flush(t, ch)
	unsubscribe()
	require.NoError(t, ch.Publish(update("x", point(1, 1))))
	flush(t, ch)

	assert.Equal(t, 1, count)
}

func TestChannel_Validation(t *testing.T) {
	ch := NewChannel(DefaultConfig())
	ch.SetShape("macd", []string{"macd", "signal", "histogram"})

	var events []ErrorEvent
	ch.OnError(func(ev ErrorEvent) { events = append(events, ev) })

	bad := []models.IndicatorUpdate{
		update(""),
		update("sma"),
		update("sma", models.IndicatorPoint{Values: models.Values{"value": models.Number(1)}}),
		update("sma", point(2, 1), point(1, 1)),
		update("sma", models.IndicatorPoint{Time: t0, Values: models.Values{}}),
		update("sma", models.IndicatorPoint{Time: t0, Values: models.Values{"": models.Number(1)}}),
		update("sma", models.IndicatorPoint{Time: t0, Values: models.Values{"value": {Float: math.Inf(1), Defined: true}}}),
		update("macd", point(0, 1)),
	}
	for i, u := range bad {
		err := ch.Publish(u)
		assert.ErrorIs(t, err, models.ErrValidation, "case %d", i)
	}

	assert.Len(t, events, len(bad))
	for _, ev := range events {
		assert.Equal(t, KindValidation, ev.Kind)
	}
	assert.Equal(t, 0, ch.Pending())

	ok := update("macd", models.IndicatorPoint{Time: t0, Values: models.Undefined([]string{"macd", "signal", "histogram"})})
	assert.NoError(t, ch.Publish(ok))
	assert.Equal(t, 1, ch.Pending())
}

func TestChannel_PublishBatchKeepsValidUpdates(t *testing.T) {
	ch := NewChannel(DefaultConfig())
	err := ch.PublishBatch([]models.IndicatorUpdate{
		update("a", point(0, 1)),
		update(""),
		update("b", point(0, 2)),
	})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 2, ch.Pending())
}

func TestChannel_MergesSeries(t *testing.T) {
	ch := startChannel(t, Config{MaxSeriesPoints: 4})

	require.NoError(t, ch.Publish(update("ema", point(0, 1), point(1, 2), point(3, 4))))
	// partial then closed value for the same bar
	require.NoError(t, ch.Publish(models.IndicatorUpdate{IndicatorID: "ema", Points: []models.IndicatorPoint{point(4, 9)}, Partial: true}))
	require.NoError(t, ch.Publish(update("ema", point(4, 5))))
	require.NoError(t, ch.Publish(update("ema", point(2, 3))))
	flush(t, ch)

	series, ok := ch.Series("ema")
	require.True(t, ok)
	require.Len(t, series, 4)
	for i, p := range series {
		assert.True(t, t0.Add(time.Duration(i+1)*time.Minute).Equal(p.Time))
		assert.Equal(t, float64(i+2), p.Values["value"].Float)
	}

	snap := ch.Snapshot()
	assert.Len(t, snap["ema"], 4)

	ch.RemoveSeries("ema")
	_, ok = ch.Series("ema")
	assert.False(t, ok)
}

func TestChannel_PublishCopiesPoints(t *testing.T) {
	ch := startChannel(t, DefaultConfig())
	values := models.Values{"value": models.Number(1)}
	require.NoError(t, ch.Publish(update("x", models.IndicatorPoint{Time: t0, Values: values})))
	values["value"] = models.Number(99)
	flush(t, ch)

	series, _ := ch.Series("x")
	assert.Equal(t, 1.0, series[0].Values["value"].Float)
}

func TestChannel_StopAndRestart(t *testing.T) {
	ch := NewChannel(DefaultConfig())
	require.NoError(t, ch.Start(context.Background()))
	assert.Error(t, ch.Start(context.Background()))
	ch.Stop()
	ch.Stop()

	require.NoError(t, ch.Publish(update("x", point(0, 1))))
	assert.Equal(t, 1, ch.Pending())

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()
	flush(t, ch)
	assert.Equal(t, 0, ch.Pending())
}

func TestChannel_FlushHonoursContext(t *testing.T) {
	ch := startChannel(t, DefaultConfig())
	release := make(chan struct{})
	ch.Subscribe(func(models.IndicatorUpdate) error {
		<-release
		return nil
	})
	require.NoError(t, ch.Publish(update("x", point(0, 1))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Flush(ctx), context.DeadlineExceeded)
	close(release)
	flush(t, ch)
}
