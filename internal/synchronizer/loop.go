package synchronizer

// LoopParams are the design parameters of a second order loop.
type LoopParams struct {
	DampingFactor       float64
	NormalizedBandwidth float64
	DetectorGain        float64
}

// loopFilter is the proportional-integral filter of the timing loop. The
// integrator sees the error one sample late, so the current error only
// reaches the output through the proportional branch.
type loopFilter struct {
	kp, ki float64
	vi     float64 // integrator state
	prevIn float64 // ki*e from the previous sample
	out    float64
}

func (l *loopFilter) step(e float64) float64 {
	l.vi += l.prevIn
	l.out = e*l.kp + l.vi
	l.prevIn = e * l.ki
	return l.out
}

func (l *loopFilter) reset() {
	l.vi = 0
	l.prevIn = 0
	l.out = 0
}

// gardnerGains follows the usual TED loop design with NCO gain -1.
func gardnerGains(osf int, p LoopParams) (kp, ki float64) {
	const k0 = -1.0
	zeta := p.DampingFactor
	theta := p.NormalizedBandwidth / float64(osf) / (zeta + 0.25/zeta)
	d := (1 + 2*zeta*theta + theta*theta) * k0 * p.DetectorGain
	return 4 * zeta * theta / d, 4 * theta * theta / d
}

// pllGains designs the pilot aided carrier loop. The detector gain is 2 and
// the synthesizer gain is pllSPS.
func pllGains(pllSPS int, zeta, bn float64) (kp, ki float64) {
	const kd = 2.0
	sps := float64(pllSPS)
	k0 := sps
	theta := bn * sps / ((zeta + 0.25/zeta) * sps)
	d := 1 + 2*zeta*theta + theta*theta
	kp = (4 * zeta * theta / d) / (kd * k0)
	ki = (4 / sps * theta * theta / d) / (kd * k0)
	return kp, ki
}
