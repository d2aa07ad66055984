package audio

// Sample post-processing applied by capture workers, in order: integer PCM
// to float, peak normalization, noise gate, channel downmix, resample.
// All functions are pure except the in-place ones noted below.

const (
	// normalizeTarget is the peak absolute value a chunk is scaled to.
	normalizeTarget = 0.95

	// gateFloor is the noise-gate threshold; samples below it are zeroed.
	gateFloor = 0.01
)

// PCMToFloat converts interleaved 16-bit signed PCM to float32 in [-1, 1].
func PCMToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Normalize scales samples in place so the chunk's peak absolute value
// becomes 0.95. An all-zero chunk is left unchanged.
func Normalize(samples []float32) {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		return
	}
	scale := normalizeTarget / peak
	for i := range samples {
		samples[i] *= scale
	}
}

// Gate zeroes, in place, every sample with absolute value below 0.01.
// Samples at or above the floor are untouched.
func Gate(samples []float32) {
	for i, s := range samples {
		if s < gateFloor && s > -gateFloor {
			samples[i] = 0
		}
	}
}

// DownmixStereo averages interleaved stereo samples into mono. An odd
// trailing sample is dropped.
func DownmixStereo(samples []float32) []float32 {
	n := len(samples) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. When the rates match the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Mix averages two frames sample-by-sample, truncating both to the shorter
// length. The result length is min(len(a), len(b)).
func Mix(a, b []float32) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}
