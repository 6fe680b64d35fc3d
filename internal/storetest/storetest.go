// Package storetest holds conformance suites that every unread counter,
// presence set and relay bus backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/messaging"
	"github.com/umar/roomrelay/internal/relay"
)

type UnreadFactory func(t *testing.T) messaging.UnreadCounter

type PresenceFactory func(t *testing.T) messaging.PresenceTracker

type BusFactory func(t *testing.T) relay.Bus

func RunUnreadTests(t *testing.T, factory UnreadFactory) {
	t.Run("MissingCounterReadsZero", func(t *testing.T) {
		s := factory(t)
		n, err := s.Count(context.Background(), 1, 1)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("IncrementSkipsSender", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Increment(ctx, 42, 1, []int64{1, 2, 3}))
		require.NoError(t, s.Increment(ctx, 42, 2, []int64{1, 2, 3}))

		for user, want := range map[int64]int64{1: 1, 2: 1, 3: 2} {
			n, err := s.Count(ctx, 42, user)
			require.NoError(t, err)
			assert.Equal(t, want, n, "user %d", user)
		}
	})

	t.Run("IncrementToleratesEmptyAndSingle", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Increment(ctx, 7, 1, nil))
		require.NoError(t, s.Increment(ctx, 7, 1, []int64{1}))

		n, err := s.Count(ctx, 7, 1)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ResetClearsCounter", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		for _i := 0; _i < 3; _i++ {
			require.NoError(t, s.Increment(ctx, 9, 1, []int64{1, 2}))
		}
		require.NoError(t, s.Reset(ctx, 9, 2))
		require.NoError(t, s.Reset(ctx, 9, 2))

		n, err := s.Count(ctx, 9, 2)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("RoomsAreIndependent", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Increment(ctx, 10, 1, []int64{1, 2}))
		require.NoError(t, s.Increment(ctx, 11, 1, []int64{1, 2}))
		require.NoError(t, s.Increment(ctx, 11, 1, []int64{1, 2}))
		require.NoError(t, s.Reset(ctx, 10, 2))

		counts, err := s.Counts(ctx, 2, []int64{10, 11, 12})
		require.NoError(t, err)
		assert.Equal(t, map[int64]int64{10: 0, 11: 2, 12: 0}, counts)
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for _i := 0; _i < 20; _i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Increment(ctx, 5, 1, []int64{1, 2}))
			}()
		}
		wg.Wait()

		n, err := s.Count(ctx, 5, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(20), n)
	})
}

func RunPresenceTests(t *testing.T, factory PresenceFactory) {
	t.Run("OnlineOffline", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		online, err := s.IsOnline(ctx, 1)
		require.NoError(t, err)
		assert.False(t, online)

		require.NoError(t, s.MarkOnline(ctx, 1))
		require.NoError(t, s.MarkOnline(ctx, 1))
		online, err = s.IsOnline(ctx, 1)
		require.NoError(t, err)
		assert.True(t, online)

		require.NoError(t, s.MarkOffline(ctx, 1))
		require.NoError(t, s.MarkOffline(ctx, 1))
		online, err = s.IsOnline(ctx, 1)
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("ListOnline", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		ids, err := s.ListOnline(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		for _, id := range []int64{3, 1, 2} {
			require.NoError(t, s.MarkOnline(ctx, id))
		}
		require.NoError(t, s.MarkOffline(ctx, 2))

		ids, err = s.ListOnline(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids)
	})
}

func RunBusTests(t *testing.T, factory BusFactory) {
	t.Run("PublisherReceivesOwnEvents", func(t *testing.T) {
		b := factory(t)
		got := make(chan []byte, 16)
		sub, err := b.Subscribe(context.Background(), "chat:room:1", func(topic string, data []byte) {
			assert.Equal(t, "chat:room:1", topic)
			got <- data
		})
		require.NoError(t, err)
		defer sub.Close()

		data := publishUntilReceived(t, b, "chat:room:1", []byte("hello"), got)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("DeliveredRightAfterSubscribe", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		got := make(chan []byte, 1)
		sub, err := b.Subscribe(ctx, "chat:room:5", func(_ string, data []byte) { got <- data })
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, b.Publish(ctx, "chat:room:5", []byte("first")))
		select {
		case data := <-got:
			assert.Equal(t, "first", string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("event published right after subscribe was lost")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		one := make(chan []byte, 16)
		two := make(chan []byte, 16)

		sub1, err := b.Subscribe(ctx, "chat:room:1", func(_ string, data []byte) { one <- data })
		require.NoError(t, err)
		defer sub1.Close()
		sub2, err := b.Subscribe(ctx, "chat:room:2", func(_ string, data []byte) { two <- data })
		require.NoError(t, err)
		defer sub2.Close()

		publishUntilReceived(t, b, "chat:room:2", []byte("for two"), two)
		select {
		case data := <-one:
			t.Fatalf("room 1 handler received %q", data)
		default:
		}

		data := publishUntilReceived(t, b, "chat:room:1", []byte("for one"), one)
		assert.Equal(t, "for one", string(data))
		assert.Empty(t, two)
	})

	t.Run("EverySubscriberReceives", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		first := make(chan []byte, 16)
		second := make(chan []byte, 16)

		sub1, err := b.Subscribe(ctx, "chat:room:3", func(_ string, data []byte) { first <- data })
		require.NoError(t, err)
		defer sub1.Close()
		sub2, err := b.Subscribe(ctx, "chat:room:3", func(_ string, data []byte) { second <- data })
		require.NoError(t, err)
		defer sub2.Close()

		publishUntilReceived(t, b, "chat:room:3", []byte("both"), first)
		select {
		case data := <-second:
			assert.Equal(t, "both", string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("second subscriber did not receive the event")
		}
	})

	t.Run("ClosedSubscriptionStopsDelivery", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		closed := make(chan []byte, 16)
		open := make(chan []byte, 16)

		sub, err := b.Subscribe(ctx, "chat:room:4", func(_ string, data []byte) { closed <- data })
		require.NoError(t, err)
		keep, err := b.Subscribe(ctx, "chat:room:4", func(_ string, data []byte) { open <- data })
		require.NoError(t, err)
		defer keep.Close()

		publishUntilReceived(t, b, "chat:room:4", []byte("before"), open)
		require.NoError(t, sub.Close())
		drain(closed)

		publishUntilReceived(t, b, "chat:room:4", []byte("after"), open)
		select {
		case data := <-closed:
			t.Fatalf("closed subscription received %q", data)
		case <-time.After(200 * time.Millisecond):
		}
	})
}

// publishUntilReceived republishes until the handler sees the payload. Remote
// backends confirm subscriptions asynchronously, so the first publish may race.
func publishUntilReceived(t *testing.T, b relay.Bus, topic string, data []byte, got <-chan []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, b.Publish(ctx, topic, data))
		select {
		case recv := <-got:
			if string(recv) == string(data) {
				// let any duplicate publishes land before the caller continues
				time.Sleep(150 * time.Millisecond)
				drainMatching(got, data)
				return recv
			}
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatalf("no delivery on %s", topic)
		}
	}
}

func drainMatching(ch <-chan []byte, data []byte) {
	for {
		select {
		case recv := <-ch:
			if string(recv) != string(data) {
				return
			}
		default:
			return
		}
	}
}

func drain(ch <-chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
