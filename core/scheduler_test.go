package core

import "testing"

func resetTimers() {
	timerList = nil
	SetTime(0)
}

func TestPeriodicTimers(t *testing.T) {
	resetTimers()
	var fast, medium int
	ScheduleTimer(NewPeriodicTimer(0, 100, func() { fast++ }))
	slow := NewPeriodicTimer(0, 1000, func() { medium++ })
	ScheduleTimer(slow)

	for now := uint32(0); now < 5000; now += 100 {
		SetTime(now)
		ProcessTimers()
	}
	if fast != 50 {
		t.Errorf("Expected 50 fast ticks, got %d", fast)
	}
	if medium != 5 {
		t.Errorf("Expected 5 medium ticks, got %d", medium)
	}

	CancelTimer(slow)
	SetTime(5000)
	ProcessTimers()
	if medium != 5 {
		t.Errorf("Expected the cancelled timer to stay idle, got %d", medium)
	}
}

func TestTimerOrderAcrossWrap(t *testing.T) {
	resetTimers()
	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}
	ScheduleTimer(mk(2, 10))         // after the wrap
	ScheduleTimer(mk(1, 0xFFFFFFF0)) // before it

	SetTime(0xFFFFFFF8)
	ProcessTimers()
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("Expected only timer 1 before the wrap, got %v", order)
	}
	SetTime(20)
	ProcessTimers()
	if len(order) != 2 || order[1] != 2 {
		t.Errorf("Expected timer 2 after the wrap, got %v", order)
	}
}

func TestEventRing(t *testing.T) {
	ClearEventRing()
	for i := 0; i < EventRingSize+3; i++ {
		RecordEvent(EvtSCCState, 0, uint32(i), uint32(i), 0)
	}
	events := Events()
	if len(events) != EventRingSize {
		t.Fatalf("Expected %d events, got %d", EventRingSize, len(events))
	}
	if events[0].Clock != 3 || events[len(events)-1].Clock != EventRingSize+2 {
		t.Errorf("Expected oldest 3 and newest %d, got %d and %d",
			EventRingSize+2, events[0].Clock, events[len(events)-1].Clock)
	}

	var lines int
	SetDebugWriter(func(string) { lines++ })
	defer SetDebugWriter(func(string) {})
	DumpEventRing()
	if lines != EventRingSize+2 {
		t.Errorf("Expected %d dump lines, got %d", EventRingSize+2, lines)
	}
}
