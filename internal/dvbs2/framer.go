package dvbs2

import "fmt"

// Framer assembles and disassembles PL frames of a single MODCOD.
type Framer struct {
	modcod   ModCod
	geometry Geometry
	header   []complex64
	seq      []uint8
}

// NewFramer builds a framer for the MODCOD.
func NewFramer(m ModCod) *Framer {
	g := m.Geometry()
	return &Framer{
		modcod:   m,
		geometry: g,
		header:   Header(m),
		seq:      ScramblingSequence(g.FrameSize),
	}
}

// ModCod returns the MODCOD of the framer.
func (f *Framer) ModCod() ModCod { return f.modcod }

// Geometry returns the frame layout.
func (f *Framer) Geometry() Geometry { return f.geometry }

// Sequence returns the scrambling sequence of one frame.
func (f *Framer) Sequence() []uint8 { return f.seq }

// Build inserts the header and pilots around the XFECFRAME symbols and
// applies PL scrambling.
func (f *Framer) Build(data []complex64) ([]complex64, error) {
	g := f.geometry
	if len(data) != g.DataSymbols {
		return nil, fmt.Errorf("dvbs2: build frame: got %d data symbols, want %d", len(data), g.DataSymbols)
	}
	frame := make([]complex64, g.FrameSize)
	copy(frame, f.header)
	pos := HeaderSize
	pilots := 0
	for s := 0; s < g.Slots; s++ {
		pos += copy(frame[pos:], data[s*SlotSize:(s+1)*SlotSize])
		if (s+1)%PilotSlots == 0 && pilots < g.Pilots {
			for i := 0; i < PilotSize; i++ {
				frame[pos+i] = PilotSymbol
			}
			pos += PilotSize
			pilots++
		}
	}
	Scramble(f.seq, frame, frame)
	return frame, nil
}

// Descramble removes PL scrambling from a frame aligned on its header.
func (f *Framer) Descramble(in, out []complex64) error {
	if len(in) != f.geometry.FrameSize || len(out) != len(in) {
		return fmt.Errorf("dvbs2: descramble: got %d/%d symbols, want %d", len(in), len(out), f.geometry.FrameSize)
	}
	Descramble(f.seq, in, out)
	return nil
}

// RemoveHeader strips the header and pilot blocks from a descrambled
// frame, returning the XFECFRAME symbols.
func (f *Framer) RemoveHeader(frame []complex64) ([]complex64, error) {
	g := f.geometry
	if len(frame) != g.FrameSize {
		return nil, fmt.Errorf("dvbs2: remove header: got %d symbols, want %d", len(frame), g.FrameSize)
	}
	data := make([]complex64, 0, g.DataSymbols)
	for i := HeaderSize; i < g.FrameSize; i++ {
		if !g.IsPilot(i) {
			data = append(data, frame[i])
		}
	}
	return data, nil
}

// Pilots returns the descrambled pilot symbols of an aligned frame, one
// slice per pilot block.
func (f *Framer) Pilots(frame []complex64) [][]complex64 {
	starts := f.geometry.PilotStarts()
	out := make([][]complex64, len(starts))
	for i, p := range starts {
		if p+PilotSize > len(frame) {
			return out[:i]
		}
		out[i] = frame[p : p+PilotSize]
	}
	return out
}
