package audio

import "math"

// filterHalfWidth is the windowed-sinc kernel's half-width in input-sample
// units; wider windows trade latency for stop-band attenuation.
const filterHalfWidth = 16

// Resample16kTo24k converts 16kHz mono PCM16LE audio to 24kHz PCM16LE before
// it is handed to the upstream STT provider (spec.md §4.4). It uses a
// windowed-sinc polyphase filter (rational L/M = 3/2 upsample/decimate),
// the Go analogue of original_source/server/app/utils/audio.py's
// scipy.signal.resample call. For every N-sample input this produces exactly
// floor(3N/2) output samples (spec.md §8 invariant 1): a 320-sample 20ms
// frame yields exactly 480 samples.
func Resample16kTo24k(pcm []byte) []byte {
	samples := bytesToInt16(pcm)
	out := resamplePolyphase(samples, 3, 2)
	return int16ToBytes(out)
}

func resamplePolyphase(in []int16, l, m int) []int16 {
	n := len(in)
	outLen := (n * l) / m
	out := make([]int16, outLen)
	if n == 0 {
		return out
	}

	// Filter taps are evaluated in input-sample units, so the cutoff (the
	// lower of the two Nyquist rates) is expressed relative to the input
	// Nyquist, and each output sums one tap per real input sample.
	cutoff := float64(l) / float64(maxInt(l, m))

	for k := 0; k < outLen; k++ {
		centerUp := k * m // position in the zero-stuffed (upsampled) domain

		lo := centerUp - filterHalfWidth*l
		hi := centerUp + filterHalfWidth*l

		// Only multiples of l carry a real (non-zero-stuffed) sample.
		loTap := lo + ((l - lo%l) % l)
		if loTap < lo {
			loTap += l
		}

		var acc float64
		for tapUp := loTap; tapUp <= hi; tapUp += l {
			srcIdx := tapUp / l
			if srcIdx < 0 || srcIdx >= n {
				continue
			}
			x := float64(tapUp-centerUp) / float64(l)
			acc += float64(in[srcIdx]) * sincLowpass(x, cutoff)
		}
		out[k] = clipInt16(acc)
	}
	return out
}

// sincLowpass is the windowed-sinc impulse response of an ideal low-pass
// filter at the given cutoff (relative to Nyquist = 1), Hamming-windowed
// over +/- filterHalfWidth input samples.
func sincLowpass(x, cutoff float64) float64 {
	var s float64
	if x == 0 {
		s = cutoff
	} else {
		piCX := math.Pi * cutoff * x
		s = cutoff * math.Sin(piCX) / piCX
	}
	window := 0.54 + 0.46*math.Cos(math.Pi*x/float64(filterHalfWidth))
	return s * window
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func clipInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
