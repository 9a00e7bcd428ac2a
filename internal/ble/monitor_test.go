package ble

import (
	"errors"
	"testing"
)

func TestMonitorDeliversInOrder(t *testing.T) {
	char := &mockCharacteristic{}
	mon, err := Subscribe(char, StepData, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for _, p := range []string{"a", "b", "c"} {
		char.SimulateNotification([]byte(p))
	}
	if err := mon.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	var got []string
	for ev := range mon.Events() {
		n, ok := ev.(Notification)
		if !ok {
			t.Fatalf("unexpected event %T", ev)
		}
		got = append(got, string(n.Payload))
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("payloads = %v, want [a b c]", got)
	}
	if char.isSubscribed() {
		t.Error("characteristic still subscribed after Unsubscribe()")
	}
}

func TestMonitorCopiesPayload(t *testing.T) {
	char := &mockCharacteristic{}
	mon, err := Subscribe(char, StepData, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	buf := []byte("xy")
	char.SimulateNotification(buf)
	buf[0] = 'z'

	n := (<-mon.Events()).(Notification)
	if string(n.Payload) != "xy" {
		t.Errorf("payload = %q, want %q", n.Payload, "xy")
	}
}

func TestMonitorErrorReportedOnce(t *testing.T) {
	char := &mockCharacteristic{}
	mon, err := Subscribe(char, StepData, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	streamErr := errors.New("att: notification failed")
	char.SimulateNotification([]byte("a"))
	char.SimulateError(streamErr)
	char.SimulateError(streamErr)
	char.SimulateNotification([]byte("late"))

	var failures, payloads int
	for ev := range mon.Events() {
		switch ev := ev.(type) {
		case Notification:
			payloads++
		case MonitorFailed:
			failures++
			if !errors.Is(ev.Err, streamErr) {
				t.Errorf("MonitorFailed.Err = %v, want wrapping %v", ev.Err, streamErr)
			}
		}
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
	if payloads != 1 {
		t.Errorf("payloads = %d, want 1", payloads)
	}
	if char.isSubscribed() {
		t.Error("subscription not torn down after failure")
	}
	if err := mon.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe() after failure error = %v", err)
	}
}

func TestMonitorBacklogFails(t *testing.T) {
	char := &mockCharacteristic{}
	mon, err := Subscribe(char, StepData, 2)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		char.SimulateNotification([]byte{byte(i)})
	}

	var last MonitorEvent
	count := 0
	for ev := range mon.Events() {
		last = ev
		count++
	}
	failed, ok := last.(MonitorFailed)
	if !ok {
		t.Fatalf("last event = %T, want MonitorFailed", last)
	}
	if !errors.Is(failed.Err, ErrBacklog) {
		t.Errorf("MonitorFailed.Err = %v, want ErrBacklog", failed.Err)
	}
	if count != 3 {
		t.Errorf("events = %d, want 3 (2 payloads + failure)", count)
	}
}

func TestSubscribeError(t *testing.T) {
	char := &mockCharacteristic{subscribeErr: errMockRadio}
	if _, err := Subscribe(char, StepData, 8); !errors.Is(err, errMockRadio) {
		t.Fatalf("Subscribe() error = %v, want %v", err, errMockRadio)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	char := &mockCharacteristic{}
	mon, err := Subscribe(char, StepData, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	_ = mon.Unsubscribe()
	_ = mon.Unsubscribe()
	if char.unsubscribes != 1 {
		t.Errorf("unsubscribes = %d, want 1", char.unsubscribes)
	}
}
