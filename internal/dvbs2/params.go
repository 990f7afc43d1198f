// Package dvbs2 describes the DVB-S2 physical layer framing used by the
// synchronizers: frame geometry, the PL header, pilot placement, PL
// scrambling and the PSK constellations.
package dvbs2

import (
	"errors"
	"fmt"
	"strings"
)

// Physical layer framing constants, in symbols.
const (
	SlotSize    = 90
	HeaderSize  = 90
	SOFSize     = 26
	PLSCSize    = 64
	PilotSize   = 36
	PilotSlots  = 16
	PilotPeriod = PilotSlots*SlotSize + PilotSize
	FirstPilot  = HeaderSize + PilotSlots*SlotSize

	// Active window of the coarse PLL inside one pilot period, relative to
	// a period boundary. It covers exactly the 36 pilot symbols.
	PilotZoneStart = FirstPilot % PilotPeriod
	PilotZoneEnd   = PilotZoneStart + PilotSize
)

// Receiver defaults of the reference modem.
const (
	DefaultRolloff  = 0.05
	DefaultOSF      = 4
	DefaultGrpDelay = 50
)

var (
	// ErrUnknownModCod is returned when a MODCOD name is not supported.
	ErrUnknownModCod = errors.New("dvbs2: unknown modcod")
	// ErrUnsupported is returned when an operation has no implementation
	// for the requested MODCOD.
	ErrUnsupported = errors.New("dvbs2: unsupported")
)

// ModCod identifies a modulation and coding combination together with the
// FECFRAME length.
type ModCod struct {
	Name          string
	ID            int // MODCOD field of the PLS code
	BitsPerSymbol int
	Short         bool
	Pilots        bool
}

var modcods = []ModCod{
	{Name: "QPSK-S_3/5", ID: 5, BitsPerSymbol: 2, Short: true, Pilots: true},
	{Name: "QPSK-S_8/9", ID: 10, BitsPerSymbol: 2, Short: true, Pilots: true},
	{Name: "8PSK-S_3/5", ID: 12, BitsPerSymbol: 3, Short: true, Pilots: true},
	{Name: "8PSK-S_8/9", ID: 16, BitsPerSymbol: 3, Short: true, Pilots: true},
	{Name: "16APSK-S_8/9", ID: 22, BitsPerSymbol: 4, Short: true, Pilots: true},
	{Name: "QPSK-N_3/5", ID: 5, BitsPerSymbol: 2, Short: false, Pilots: true},
	{Name: "QPSK-N_8/9", ID: 10, BitsPerSymbol: 2, Short: false, Pilots: true},
}

// DefaultModCod is the MODCOD used when none is configured.
const DefaultModCod = "QPSK-S_8/9"

// ParseModCod looks a MODCOD up by name (case insensitive). An empty name
// selects DefaultModCod.
func ParseModCod(name string) (ModCod, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultModCod
	}
	for _, m := range modcods {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return ModCod{}, fmt.Errorf("%w: %q", ErrUnknownModCod, name)
}

// ModCods lists the supported MODCOD names.
func ModCods() []string {
	names := make([]string, len(modcods))
	for i, m := range modcods {
		names[i] = m.Name
	}
	return names
}

// Geometry is the symbol layout of one PL frame.
type Geometry struct {
	DataSymbols int // XFECFRAME length
	Slots       int
	Pilots      int // number of pilot blocks
	FrameSize   int // header + slots + pilot blocks
}

// Geometry returns the PL frame layout of the MODCOD.
func (m ModCod) Geometry() Geometry {
	nldpc := 64800
	if m.Short {
		nldpc = 16200
	}
	data := nldpc / m.BitsPerSymbol
	slots := data / SlotSize
	pilots := 0
	if m.Pilots && slots > 0 {
		pilots = (slots - 1) / PilotSlots
	}
	return Geometry{
		DataSymbols: data,
		Slots:       slots,
		Pilots:      pilots,
		FrameSize:   HeaderSize + slots*SlotSize + pilots*PilotSize,
	}
}

// PilotStarts returns the frame offset of every pilot block.
func (g Geometry) PilotStarts() []int {
	starts := make([]int, 0, g.Pilots)
	for p := FirstPilot; p+PilotSize <= g.FrameSize && len(starts) < g.Pilots; p += PilotPeriod {
		starts = append(starts, p)
	}
	return starts
}

// IsPilot reports whether frame offset idx falls inside a pilot block.
func (g Geometry) IsPilot(idx int) bool {
	if idx < FirstPilot || idx >= g.FrameSize {
		return false
	}
	rem := idx % PilotPeriod
	block := (idx - FirstPilot) / PilotPeriod
	return block < g.Pilots && rem >= PilotZoneStart && rem < PilotZoneEnd
}
