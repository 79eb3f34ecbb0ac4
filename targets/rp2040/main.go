//go:build rp2040 || rp2350

package main

import (
	"machine"
	"strconv"
	"time"

	"motorprofiler/core"
	"motorprofiler/profiler"
	"motorprofiler/profiler/config"
)

func main() {
	// a watchdog left armed by the previous image would reset us mid-boot
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	link := newUSBLink(func(cmdID uint16, data *[]byte) error {
		return core.DispatchCommand(cmdID, data)
	})

	InitClock()
	core.TimerInit()
	core.InitCoreCommands()
	registerPins()
	startProfiler()

	core.GetGlobalDictionary().BuildDictionary()
	core.SetGlobalTransport(link.tr)
	core.SetResetHandler(watchdogReset)

	for {
		step(link)
		time.Sleep(10 * time.Microsecond)
	}
}

// startProfiler brings up the power stage and the session. On failure only
// the core commands answer and BOARD_ERROR tells the host why.
func startProfiler() {
	cfg := config.DefaultConfig()
	hw, err := setupBoard(cfg)
	if err != nil {
		core.RegisterConstant("BOARD_ERROR", err.Error())
		return
	}
	session, err := profiler.NewSession(cfg, hw)
	if err != nil {
		core.RegisterConstant("BOARD_ERROR", err.Error())
		return
	}
	session.RegisterCommands()
	scheduleSession(session, cfg)
}

// step is one pass of the main loop. A panic drops the buffered link data
// and the loop carries on.
func step(link *usbLink) {
	defer func() {
		if r := recover(); r != nil {
			link.errors++
			link.in.Reset()
			link.out.Reset()
		}
	}()

	UpdateSystemTime()
	link.poll()
	link.service()
	// after service, so the ack of the reset command is already out
	core.CheckPendingReset()
	core.ProcessTimers()
}

// watchdogReset reboots through the watchdog, which also re-enumerates USB.
func watchdogReset() {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
		return
	}
	if err := machine.Watchdog.Start(); err != nil {
		return
	}
	for {
		time.Sleep(time.Millisecond)
	}
}

// registerPins publishes the pin enumeration: gpio0..gpio29, then the ADC
// inputs.
func registerPins() {
	names := make([]string, 0, 35)
	for i := 0; i < 30; i++ {
		names = append(names, "gpio"+strconv.Itoa(i))
	}
	names = append(names, "ADC0", "ADC1", "ADC2", "ADC3", "ADC_TEMPERATURE")
	core.RegisterEnumeration("pin", names)
}
