// Package config defines the robot configuration: encoder calibration, estimator and control
// periods, tracking gains, drivetrain and field geometry.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Default calibration, measured on the competition robot.
const (
	DefaultCountsPerRadian = 415.17058983112384854
	DefaultCountsPerInch   = 71.619724391352901
)

// A Config describes the full configuration of the motion core.
type Config struct {
	Calibration Calibration `json:"gps" mapstructure:"gps"`
	Odometry    Odometry    `json:"odometry" mapstructure:"odometry"`
	Tracking    Tracking    `json:"tracking" mapstructure:"tracking"`
	Control     Control     `json:"control" mapstructure:"control"`
	Drive       Drive       `json:"drive" mapstructure:"drive"`
	Effectors   Effectors   `json:"effectors" mapstructure:"effectors"`
	Field       Field       `json:"field" mapstructure:"field"`
	LogLevel    string      `json:"log_level,omitempty" mapstructure:"log_level"`
}

// Calibration converts between wheel encoder counts and physical units. CountsPerRadian is half
// the track width expressed in counts.
type Calibration struct {
	CountsPerRadian float64 `json:"cpr" mapstructure:"cpr"`
	CountsPerInch   float64 `json:"cpi" mapstructure:"cpi"`
}

// Odometry configures the pose estimator task.
type Odometry struct {
	PeriodMs int `json:"period_ms" mapstructure:"period_ms"`
	Window   int `json:"window" mapstructure:"window"`
}

// Gains are PID coefficients.
type Gains struct {
	Kp float64 `json:"kp" mapstructure:"kp"`
	Ki float64 `json:"ki" mapstructure:"ki"`
	Kd float64 `json:"kd" mapstructure:"kd"`
}

// Tracking configures the dual-wheel tracking loop.
type Tracking struct {
	Gains Gains `json:"gains" mapstructure:"gains"`
	// AccelLimit is the largest rise of the normalized output per second.
	AccelLimit float64 `json:"accel_limit" mapstructure:"accel_limit"`
	// SettleVelocityRPM and SettleError bound what counts as "arrived".
	SettleVelocityRPM float64 `json:"settle_velocity_rpm" mapstructure:"settle_velocity_rpm"`
	SettleError       float64 `json:"settle_error" mapstructure:"settle_error"`
}

// Control configures the path controller and script interpreter.
type Control struct {
	PeriodMs int `json:"period_ms" mapstructure:"period_ms"`
	PollMs   int `json:"poll_ms" mapstructure:"poll_ms"`
}

// Drive describes the drivetrain motor groups.
type Drive struct {
	MaxRPM             float64 `json:"max_rpm" mapstructure:"max_rpm"`
	TicksPerRevolution float64 `json:"ticks_per_revolution" mapstructure:"ticks_per_revolution"`
}

// Effectors describes the end-effectors driven by scripts.
type Effectors struct {
	IntakeRPM       float64 `json:"intake_rpm" mapstructure:"intake_rpm"`
	ScorerRPM       float64 `json:"scorer_rpm" mapstructure:"scorer_rpm"`
	CatapultRPM     float64 `json:"catapult_rpm" mapstructure:"catapult_rpm"`
	CatapultCycleMs int     `json:"catapult_cycle_ms" mapstructure:"catapult_cycle_ms"`
	// ArmSpeed is in arm position units per second.
	ArmSpeed float64 `json:"arm_speed" mapstructure:"arm_speed"`
}

// Field describes the playing field.
type Field struct {
	WidthInches float64 `json:"width_inches" mapstructure:"width_inches"`
}

// Default returns the configuration of the competition robot.
func Default() Config {
	return Config{
		Calibration: Calibration{
			CountsPerRadian: DefaultCountsPerRadian,
			CountsPerInch:   DefaultCountsPerInch,
		},
		Odometry: Odometry{PeriodMs: 5, Window: 2},
		Tracking: Tracking{
			Gains:             Gains{Kp: 0.0025},
			AccelLimit:        4,
			SettleVelocityRPM: 5,
			SettleError:       60,
		},
		Control: Control{PeriodMs: 10, PollMs: 5},
		Drive:   Drive{MaxRPM: 200, TicksPerRevolution: 900},
		Effectors: Effectors{
			IntakeRPM:       600,
			ScorerRPM:       600,
			CatapultRPM:     100,
			CatapultCycleMs: 400,
			ArmSpeed:        1000,
		},
		Field: Field{WidthInches: 144},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if err := cfg.Calibration.Validate(joinPath(path, "gps")); err != nil {
		return err
	}
	if err := cfg.Odometry.Validate(joinPath(path, "odometry")); err != nil {
		return err
	}
	if err := cfg.Tracking.Validate(joinPath(path, "tracking")); err != nil {
		return err
	}
	if err := cfg.Control.Validate(joinPath(path, "control")); err != nil {
		return err
	}
	if err := cfg.Drive.Validate(joinPath(path, "drive")); err != nil {
		return err
	}
	if err := cfg.Effectors.Validate(joinPath(path, "effectors")); err != nil {
		return err
	}
	if cfg.Field.WidthInches <= 0 {
		return utils.NewConfigValidationFieldRequiredError(joinPath(path, "field"), "width_inches")
	}
	return nil
}

// Validate ensures both conversion factors are usable divisors.
func (cal *Calibration) Validate(path string) error {
	if err := positive(path, "cpr", cal.CountsPerRadian); err != nil {
		return err
	}
	return positive(path, "cpi", cal.CountsPerInch)
}

// Validate ensures the estimator has a period and a window.
func (o *Odometry) Validate(path string) error {
	if o.PeriodMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "period_ms")
	}
	if o.Window < 1 {
		return utils.NewConfigValidationFieldRequiredError(path, "window")
	}
	return nil
}

// Period returns the estimator period.
func (o Odometry) Period() time.Duration {
	return time.Duration(o.PeriodMs) * time.Millisecond
}

// Validate ensures gains are non-negative and the settle thresholds are set.
func (t *Tracking) Validate(path string) error {
	for name, v := range map[string]float64{
		"gains.kp":    t.Gains.Kp,
		"gains.ki":    t.Gains.Ki,
		"gains.kd":    t.Gains.Kd,
		"accel_limit": t.AccelLimit,
	} {
		if v < 0 || math.IsNaN(v) {
			return utils.NewConfigValidationError(path, errors.Errorf("%s must be non-negative, got %v", name, v))
		}
	}
	if err := positive(path, "settle_velocity_rpm", t.SettleVelocityRPM); err != nil {
		return err
	}
	return positive(path, "settle_error", t.SettleError)
}

// Validate ensures the control loop has a period.
func (c *Control) Validate(path string) error {
	if c.PeriodMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "period_ms")
	}
	if c.PollMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "poll_ms")
	}
	return nil
}

// Period returns the control loop period.
func (c Control) Period() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

// Poll returns the interval used when waiting on end-effectors.
func (c Control) Poll() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// Validate ensures the drivetrain has a gearing and encoder resolution.
func (d *Drive) Validate(path string) error {
	if err := positive(path, "max_rpm", d.MaxRPM); err != nil {
		return err
	}
	return positive(path, "ticks_per_revolution", d.TicksPerRevolution)
}

// Validate ensures every effector has a speed.
func (e *Effectors) Validate(path string) error {
	for name, v := range map[string]float64{
		"intake_rpm":   e.IntakeRPM,
		"scorer_rpm":   e.ScorerRPM,
		"catapult_rpm": e.CatapultRPM,
		"arm_speed":    e.ArmSpeed,
	} {
		if err := positive(path, name, v); err != nil {
			return err
		}
	}
	if e.CatapultCycleMs <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "catapult_cycle_ms")
	}
	return nil
}

func positive(path, field string, v float64) error {
	if v == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, field)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return utils.NewConfigValidationError(path, errors.Errorf("%s must be positive, got %v", field, v))
	}
	return nil
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return fmt.Sprintf("%s.%s", path, field)
}
