// Package script defines the motion-script vocabulary. Scripts are authored as lists of flat
// key/value records with a "type" discriminator, and are decoded once, at load, into
// Instructions. Distances are inches, angles radians and times seconds.
package script

import (
	"fmt"
	"time"
)

// Kind names an instruction type as it is written in a record.
type Kind string

// The known instruction kinds.
const (
	KindPosition Kind = "position"
	KindRotateTo Kind = "rotateTo"
	KindOrigin   Kind = "origin"
	KindDelta    Kind = "delta"
	KindDirect   Kind = "direct"
	KindIntake   Kind = "intake"
	KindScorer   Kind = "scorer"
	KindCatapult Kind = "catapult"
	KindArm      Kind = "arm"
	KindShoot    Kind = "shoot"
	KindDelay    Kind = "delay"
	KindHold     Kind = "hold"
	KindCoast    Kind = "coast"
	KindShort    Kind = "short"
	KindSLine    Kind = "sline"
)

// Kinds lists the known kinds in authoring order.
var Kinds = []Kind{
	KindPosition, KindRotateTo, KindOrigin, KindDelta, KindDirect,
	KindIntake, KindScorer, KindCatapult, KindArm, KindShoot,
	KindDelay, KindHold, KindCoast, KindShort, KindSLine,
}

// An Instruction is one decoded script step.
type Instruction interface {
	Kind() Kind
	// Label is the authored name, or a short description when there is none.
	Label() string
}

// Meta holds the fields every record may carry.
type Meta struct {
	Name string `json:"name,omitempty"`
}

func (m Meta) label(fallback string) string {
	if m.Name != "" {
		return m.Name
	}
	return fallback
}

// Position drives along an arc to (X, Y).
type Position struct {
	Meta
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Velocity float64 `json:"v"`
	Settle   float64 `json:"t"`
	Straight bool    `json:"s,omitempty"`
	Reverse  bool    `json:"r,omitempty"`
}

// RotateTo turns in place to Heading.
type RotateTo struct {
	Meta
	Heading  float64 `json:"o"`
	Velocity float64 `json:"v"`
	Settle   float64 `json:"t"`
}

// Origin re-anchors the pose estimate and the offset of later steps.
type Origin struct {
	Meta
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"o"`
}

// Delta replaces the offset of later steps.
type Delta struct {
	Meta
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"o"`
}

// Direct drives the wheels open loop at fractions of the gearing.
type Direct struct {
	Meta
	Left     float64 `json:"l"`
	Right    float64 `json:"r"`
	Duration float64 `json:"t"`
}

// Effector runs the intake, scorer or catapult at a fraction of its gearing. A zero Duration
// leaves it running.
type Effector struct {
	Meta
	Target   Kind    `json:"-"`
	Velocity float64 `json:"v"`
	Duration float64 `json:"t"`
}

// Arm moves the arm to an absolute Position, waiting at most Timeout.
type Arm struct {
	Meta
	Position float64 `json:"p"`
	Timeout  float64 `json:"t"`
}

// Shoot fires the catapult and waits for it to reach its switch.
type Shoot struct {
	Meta
}

// Delay waits.
type Delay struct {
	Meta
	Duration float64 `json:"t"`
}

// Brake sets the brake mode of the wheels: hold, coast or short.
type Brake struct {
	Meta
	Mode Kind `json:"-"`
}

// SLine drives straight for Distance, measured on the wheel encoders.
type SLine struct {
	Meta
	Distance float64 `json:"d"`
	Velocity float64 `json:"v"`
	Settle   float64 `json:"t"`
}

// Unknown is a record of a type this package does not know. Running it does nothing.
type Unknown struct {
	Meta
	Type string `json:"-"`
}

// Kind implements Instruction.
func (Position) Kind() Kind { return KindPosition }

// Kind implements Instruction.
func (RotateTo) Kind() Kind { return KindRotateTo }

// Kind implements Instruction.
func (Origin) Kind() Kind { return KindOrigin }

// Kind implements Instruction.
func (Delta) Kind() Kind { return KindDelta }

// Kind implements Instruction.
func (Direct) Kind() Kind { return KindDirect }

// Kind implements Instruction.
func (e Effector) Kind() Kind { return e.Target }

// Kind implements Instruction.
func (Arm) Kind() Kind { return KindArm }

// Kind implements Instruction.
func (Shoot) Kind() Kind { return KindShoot }

// Kind implements Instruction.
func (Delay) Kind() Kind { return KindDelay }

// Kind implements Instruction.
func (b Brake) Kind() Kind { return b.Mode }

// Kind implements Instruction.
func (SLine) Kind() Kind { return KindSLine }

// Kind implements Instruction.
func (u Unknown) Kind() Kind { return Kind(u.Type) }

// Label implements Instruction.
func (p Position) Label() string {
	return p.label(fmt.Sprintf("position (%.2f, %.2f)", p.X, p.Y))
}

// Label implements Instruction.
func (r RotateTo) Label() string { return r.label(fmt.Sprintf("rotateTo %.3f", r.Heading)) }

// Label implements Instruction.
func (o Origin) Label() string { return o.label(string(KindOrigin)) }

// Label implements Instruction.
func (d Delta) Label() string { return d.label(string(KindDelta)) }

// Label implements Instruction.
func (d Direct) Label() string { return d.label(string(KindDirect)) }

// Label implements Instruction.
func (e Effector) Label() string { return e.label(string(e.Target)) }

// Label implements Instruction.
func (a Arm) Label() string { return a.label(string(KindArm)) }

// Label implements Instruction.
func (s Shoot) Label() string { return s.label(string(KindShoot)) }

// Label implements Instruction.
func (d Delay) Label() string { return d.label(fmt.Sprintf("%5.3fs delay", d.Duration)) }

// Label implements Instruction.
func (b Brake) Label() string { return b.label(string(b.Mode)) }

// Label implements Instruction.
func (s SLine) Label() string { return s.label(string(KindSLine)) }

// Label implements Instruction.
func (u Unknown) Label() string { return u.label(u.Type) }

// Seconds converts an authored time to a duration. Negative times are zero.
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
