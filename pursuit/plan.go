package pursuit

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/elliot2/motioncore/odometry"
	"github.com/elliot2/motioncore/utils"
)

// degenerateDenominator is the smallest arc denominator for which an arc is planned; below it
// the target lies on the heading line and the move is planned straight.
const degenerateDenominator = 1e-3

// PlanMove returns the remaining wheel travels, in counts, that carry a robot at pose to target
// along the unique circular arc tangent to its heading. cpr is the half track in counts.
// straightOnly forces a straight move along the line of sight; reverse drives the arc backwards.
func PlanMove(pose odometry.Pose, target r2.Point, cpr float64, straightOnly, reverse bool) (l, r float64) {
	if reverse {
		pose.Heading += math.Pi
		vl, vr := planForward(pose, target, cpr, straightOnly)
		return -vr, -vl
	}
	return planForward(pose, target, cpr, straightOnly)
}

func planForward(pose odometry.Pose, target r2.Point, cpr float64, straightOnly bool) (l, r float64) {
	d := target.Sub(pose.Point())
	sin, cos := math.Sincos(pose.Heading)
	denom := 2*d.Y*cos - 2*d.X*sin

	if straightOnly || math.Abs(denom) < degenerateDenominator {
		dist := d.Norm()
		bearing := utils.NormalizeAngle(math.Atan2(d.Y, d.X) - pose.Heading)
		if math.Abs(bearing) <= math.Pi/2 {
			return dist, dist
		}
		return -dist, -dist
	}

	radius := d.Dot(d) / denom
	center := r2.Point{X: pose.X - sin*radius, Y: pose.Y + cos*radius}
	toTarget := target.Sub(center)
	toRobot := pose.Point().Sub(center)
	dTheta := utils.NormalizeAngle(math.Atan2(toTarget.Y, toTarget.X) - math.Atan2(toRobot.Y, toRobot.X))
	return dTheta * (radius - cpr), dTheta * (radius + cpr)
}

// PlanRotate returns the wheel travels that turn a robot at heading in place to target heading
// along the shorter direction.
func PlanRotate(heading, target, cpr float64) (l, r float64) {
	dTheta := utils.NormalizeAngle(target - heading)
	return -dTheta * cpr, dTheta * cpr
}
