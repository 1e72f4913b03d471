package listen

import "math"

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// pcmToInt mirrors the float32 [-1,1] representation back onto int16 sample
// values for WAV encoding.
func pcmToInt(pcm []float32) []int {
	out := make([]int, len(pcm))
	for i, s := range pcm {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int(v * 32767)
	}
	return out
}
