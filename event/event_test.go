// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event_test

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/FentonA/flightsurety/event"
)

func TestEventBusSingleSubscriber(t *testing.T) {
	var testEvtData int = 999
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, testEvtData))
	select {
	case evt, ok := <-subCh:
		if !ok {
			t.Fatalf("event channel closed unexpectedly")
		}
		switch v := evt.Data.(type) {
		case int:
			if v != testEvtData {
				t.Fatalf("did not get expected event")
			}
		default:
			t.Fatalf("event data was not of expected type, expected int, got %T", evt.Data)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	var testEvtData int = 999
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus(nil, nil)
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, testEvtData))
	for _, subCh := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case evt, ok := <-subCh:
			if !ok {
				t.Fatalf("event channel closed unexpectedly")
			}
			if evt.Data.(int) != testEvtData {
				t.Fatalf("did not get expected event")
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for event")
		}
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus(nil, nil)
	subId, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, subId)
	if _, ok := <-subCh; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
}

func TestEventBusSubscribeFunc(t *testing.T) {
	defer goleak.VerifyNone(t)
	var testEvtType event.EventType = "test.event"
	var gotEvents atomic.Int64
	eb := event.NewEventBus(nil, nil)
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		gotEvents.Add(1)
	})
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
	for i := 0; i < 50; i++ {
		if gotEvents.Load() == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gotEvents.Load() != 2 {
		t.Fatalf("expected 2 events, got %d", gotEvents.Load())
	}
	// Stop closes subscriber channels so the handler goroutine exits
	eb.Stop()
	time.Sleep(50 * time.Millisecond)
}
