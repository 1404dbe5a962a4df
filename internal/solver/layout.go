package solver

// nodeDim is the per-node tangent-space dimension: [δθ, δp, δv, δb_g, δb_a].
const nodeDim = 15

// VarBlock names a contiguous slice of the global tangent-space parameter
// vector that one factor's Jacobian writes into.
type VarBlock struct {
	Offset int
	Dim    int
}

// Layout assigns global column offsets to every state node's 15-dim tangent
// block and to whichever calibration unknowns the configuration leaves free
// (spec.md §4.3: state nodes plus Rᴵⱽ, gⱽ, tₒff). Dense, node-index-ordered
// — standing in for the sparse, block-reordered information matrix a
// production solver would use (DESIGN.md).
type Layout struct {
	NumNodes                                      int
	RIVOffset, ArmOffset, GravOffset, ToffOffset  int // -1 if held fixed
	Total                                          int
}

// NewLayout computes the layout for a graph with numNodes state nodes and
// the given set of free calibration unknowns.
func NewLayout(numNodes int, freeRIV, freeArm, freeGrav, freeToff bool) *Layout {
	l := &Layout{NumNodes: numNodes, RIVOffset: -1, ArmOffset: -1, GravOffset: -1, ToffOffset: -1}
	next := numNodes * nodeDim
	if freeRIV {
		l.RIVOffset = next
		next += 3
	}
	if freeArm {
		l.ArmOffset = next
		next += 3
	}
	if freeGrav {
		l.GravOffset = next
		next += 2
	}
	if freeToff {
		l.ToffOffset = next
		next++
	}
	l.Total = next
	return l
}

func (l *Layout) nodeOffset(k int) int { return k * nodeDim }

func (l *Layout) nodeRot(k int) VarBlock { return VarBlock{l.nodeOffset(k) + 0, 3} }
func (l *Layout) nodePos(k int) VarBlock { return VarBlock{l.nodeOffset(k) + 3, 3} }
func (l *Layout) nodeVel(k int) VarBlock { return VarBlock{l.nodeOffset(k) + 6, 3} }
func (l *Layout) nodeBg(k int) VarBlock  { return VarBlock{l.nodeOffset(k) + 9, 3} }
func (l *Layout) nodeBa(k int) VarBlock  { return VarBlock{l.nodeOffset(k) + 12, 3} }

func (l *Layout) rivBlock() VarBlock  { return VarBlock{l.RIVOffset, 3} }
func (l *Layout) armBlock() VarBlock  { return VarBlock{l.ArmOffset, 3} }
func (l *Layout) gravBlock() VarBlock { return VarBlock{l.GravOffset, 2} }
func (l *Layout) toffBlock() VarBlock { return VarBlock{l.ToffOffset, 1} }
