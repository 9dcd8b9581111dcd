package capture

// diff gate tuning. Frames are decimated before comparison so the gate
// costs roughly the same regardless of display resolution.
const (
	diffSampleWidth   = 320
	diffPixelMinDelta = 10
)

// DiffGate decides whether a new frame differs enough from the previous one
// to justify a vision evaluation. Not safe for concurrent use; each wait job
// owns its own gate.
type DiffGate struct {
	threshold float64 // changed-pixel ratio above which a frame passes
	maxWidth  int     // decimation target width

	prev   []byte
	prevW  int
	prevH  int
	sliceW int
	sliceH int
}

// NewDiffGate creates a gate that passes frames whose changed-pixel ratio
// exceeds threshold. maxWidth bounds the decimated comparison width; zero
// selects the default.
func NewDiffGate(threshold float64, maxWidth int) *DiffGate {
	if maxWidth <= 0 {
		maxWidth = diffSampleWidth
	}
	return &DiffGate{threshold: threshold, maxWidth: maxWidth}
}

// Changed compares f against the previously stored frame and returns whether
// the frame passes the gate, together with the changed-pixel ratio. The
// first frame after construction or Reset, and any frame whose shape differs
// from the stored one, always passes with ratio 1.0. The stored frame
// advances on every call, so a slow drift never accumulates into a pass.
func (g *DiffGate) Changed(f Frame) (bool, float64) {
	sample, sw, sh := decimate(f, g.maxWidth)
	defer func() {
		g.prev, g.prevW, g.prevH = sample, f.Width, f.Height
		g.sliceW, g.sliceH = sw, sh
	}()

	if g.prev == nil || g.prevW != f.Width || g.prevH != f.Height {
		return true, 1.0
	}

	total := g.sliceW * g.sliceH
	if total == 0 {
		return true, 1.0
	}
	changed := 0
	for i := 0; i < total; i++ {
		d := absInt(int(sample[i*3])-int(g.prev[i*3])) +
			absInt(int(sample[i*3+1])-int(g.prev[i*3+1])) +
			absInt(int(sample[i*3+2])-int(g.prev[i*3+2]))
		if d > diffPixelMinDelta {
			changed++
		}
	}
	ratio := float64(changed) / float64(total)
	return ratio > g.threshold, ratio
}

// Reset forgets the stored frame so the next Changed call passes.
func (g *DiffGate) Reset() {
	g.prev = nil
}

// decimate samples the frame down to at most maxWidth columns using a fixed
// stride. The input frame is never modified.
func decimate(f Frame, maxWidth int) ([]byte, int, int) {
	step := 1
	if f.Width > maxWidth {
		step = f.Width / maxWidth
	}
	sw := (f.Width + step - 1) / step
	sh := (f.Height + step - 1) / step
	out := make([]byte, sw*sh*3)
	oi := 0
	for y := 0; y < f.Height; y += step {
		row := y * f.Width * 3
		for x := 0; x < f.Width; x += step {
			p := row + x*3
			out[oi] = f.RGB[p]
			out[oi+1] = f.RGB[p+1]
			out[oi+2] = f.RGB[p+2]
			oi += 3
		}
	}
	return out, sw, sh
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
