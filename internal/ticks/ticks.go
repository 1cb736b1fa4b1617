/*

Pure range evaluation helpers. A position is "in-range" when the current tick
lies within its inclusive [lower, upper] bounds; everything the engine decides
starts from these checks.

*/

package ticks

// InRange reports whether tick lies within the inclusive [lower, upper] bounds.
func InRange(tick, lower, upper int32) bool {
	return lower <= tick && tick <= upper
}

// Crossed reports whether moving from oldTick to newTick changed the position's
// range classification, and what the new classification is.
func Crossed(oldTick, newTick, lower, upper int32) (crossed, nowInRange bool) {
	was := InRange(oldTick, lower, upper)
	is := InRange(newTick, lower, upper)
	return was != is, is
}

// LeftRange reports whether the move took the tick from inside the bounds to
// outside them. This is the trigger for moving idle capital to the yield venue.
func LeftRange(oldTick, newTick, lower, upper int32) bool {
	return InRange(oldTick, lower, upper) && !InRange(newTick, lower, upper)
}

// EnteredRange reports whether the move took the tick from outside the bounds
// to inside them.
func EnteredRange(oldTick, newTick, lower, upper int32) bool {
	return !InRange(oldTick, lower, upper) && InRange(newTick, lower, upper)
}
