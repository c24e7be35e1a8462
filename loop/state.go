// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

// State is a state of the measurement loop.
type State uint8

const (
	// Initial is the state of a new Loop, left on the first evaluation.
	Initial State = iota
	// Inactive waits for an activation request.
	Inactive
	// Wake lets the hardware settle after a sleep.
	Wake
	// Measure polls the sensor until a reading completes or fails.
	Measure
	// SleepSensor quiesces the sensor before transmission.
	SleepSensor
	// Transmit sends the uplink record and waits for its completion.
	Transmit
	// Sleeping waits for the next uplink cycle, powering down if allowed.
	Sleeping
	// Final is terminal, entered after End.
	Final

	noChange State = 0xff
)

var stateNames = [...]string{"Initial", "Inactive", "Wake", "Measure", "SleepSensor", "Transmit", "Sleeping", "Final"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "<<unknown>>"
}

// fsm runs a dispatch function until the state settles. dispatch is called
// with entry set on the first call after a transition and returns the next
// state or noChange.
type fsm struct {
	state    State
	entry    bool
	again    bool
	dispatch func(s State, entry bool) State
	enter    func(from, to State)
}

func newFSM(dispatch func(State, bool) State, enter func(from, to State)) *fsm {
	return &fsm{state: Initial, entry: true, dispatch: dispatch, enter: enter}
}

// eval dispatches until a call returns noChange without asking to be
// evaluated again.
func (f *fsm) eval() {
	for {
		f.again = false
		next := f.dispatch(f.state, f.entry)
		f.entry = false
		if next == noChange || next == f.state {
			if f.again {
				continue
			}
			return
		}
		prev := f.state
		f.state, f.entry = next, true
		if f.enter != nil {
			f.enter(prev, next)
		}
	}
}

// reevaluate makes the running eval dispatch the current state once more.
func (f *fsm) reevaluate() {
	f.again = true
}
