package solver

// minNodesForCalibration and minAngularExcitation implement spec.md §4.3's
// observability guard: with too few nodes, or too little rotational
// excitation across the whole window, Rᴵⱽ/gⱽ/tₒff are not observable and
// estimating them would just let noise leak into the calibration. The guard
// holds them at their initial value instead of silently reporting garbage.
const (
	minNodesForCalibration = 5
	minAngularExcitation    = 0.5 // rad, ∫‖ω‖dt over the whole window
)

// applyObservabilityGuard freezes whichever calibration unknowns the data
// can't actually constrain.
func (g *GraphSolver) applyObservabilityGuard() {
	excitation := g.prop.AngularExcitation(g.refTimes[0], g.refTimes[len(g.refTimes)-1])
	insufficient := len(g.nodes) < minNodesForCalibration || excitation < minAngularExcitation
	if !insufficient {
		return
	}
	if g.log != nil {
		g.log.WithField("angular_excitation_rad", excitation).
			WithField("num_nodes", len(g.nodes)).
			Warn("insufficient excitation to observe calibration unknowns; holding Rᴵⱽ/gⱽ/tₒff fixed")
	}
	g.freeRIV = false
	g.freeGrav = false
	g.freeToff = false
}
