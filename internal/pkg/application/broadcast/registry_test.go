package broadcast

import (
	"testing"

	"github.com/matryer/is"

	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

func TestBroadcastReachesDeviceAndWildcardSubscribers(t *testing.T) {
	is := is.New(t)
	r := New()

	devSub := r.Register("incubator-01")
	allSub := r.Register(ChannelAll)

	ev := types.Event{Type: types.EventTypeTelemetry, DeviceID: "incubator-01"}
	r.Broadcast("incubator-01", ev)
	r.Broadcast(ChannelAll, ev)

	is.Equal((<-devSub.Events()).DeviceID, "incubator-01")
	is.Equal((<-allSub.Events()).DeviceID, "incubator-01")
}

func TestBroadcastDoesNotCrossChannels(t *testing.T) {
	is := is.New(t)
	r := New()

	other := r.Register("incubator-02")

	r.Broadcast("incubator-01", types.Event{Type: types.EventTypeTelemetry})

	select {
	case <-other.Events():
		t.Fatal("subscriber received an event for another device")
	default:
	}

	is.Equal(len(other.Events()), 0)
}

func TestBroadcastToEmptyRegistryIsANoOp(t *testing.T) {
	r := New()
	r.Broadcast("incubator-01", types.Event{Type: types.EventTypeTelemetry})
}

func TestUnregisterClosesChannelAndIsIdempotent(t *testing.T) {
	is := is.New(t)
	r := New()

	sub := r.Register("incubator-01")
	is.Equal(r.Count("incubator-01"), 1)

	r.Unregister(sub)
	r.Unregister(sub)

	_, ok := <-sub.Events()
	is.True(!ok)
	is.Equal(r.Count("incubator-01"), 0)
}

func TestMultipleSubscribersOnOneChannel(t *testing.T) {
	is := is.New(t)
	r := New()

	a := r.Register("incubator-01")
	b := r.Register("incubator-01")
	is.Equal(r.Count("incubator-01"), 2)

	r.Broadcast("incubator-01", types.Event{Type: types.EventTypeAlert})

	is.Equal((<-a.Events()).Type, types.EventTypeAlert)
	is.Equal((<-b.Events()).Type, types.EventTypeAlert)

	r.Unregister(a)
	is.Equal(r.Count("incubator-01"), 1)

	r.Broadcast("incubator-01", types.Event{Type: types.EventTypeAlert})
	is.Equal((<-b.Events()).Type, types.EventTypeAlert)
}

func TestSlowSubscriberDropsEventsInsteadOfBlocking(t *testing.T) {
	is := is.New(t)
	r := New()

	sub := r.Register("incubator-01")

	for i := 0; i < subscriberBufSize+10; i++ {
		r.Broadcast("incubator-01", types.Event{Type: types.EventTypeTelemetry})
	}

	is.Equal(len(sub.Events()), subscriberBufSize)
}
