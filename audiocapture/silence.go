package audiocapture

import "math"

// silenceWindow is the analysis window for silence trimming.
const silenceWindow = 0.03 // seconds

// silencePad is kept on each side of detected speech.
const silencePad = 0.1 // seconds

// TrimSilence removes leading and trailing windows whose RMS is below
// threshold, keeping a short pad around the speech. It returns nil when no
// window reaches the threshold.
func TrimSilence(samples []float32, sampleRate int, threshold float64) []float32 {
	win := int(float64(sampleRate) * silenceWindow)
	if win <= 0 || len(samples) == 0 {
		return samples
	}

	first, last := -1, -1
	for off := 0; off < len(samples); off += win {
		end := min(off+win, len(samples))
		if float64(calculateRMS(samples[off:end])) >= threshold {
			if first < 0 {
				first = off
			}
			last = end
		}
	}
	if first < 0 {
		return nil
	}

	pad := int(float64(sampleRate) * silencePad)
	first = max(first-pad, 0)
	last = min(last+pad, len(samples))
	return samples[first:last]
}

// calculateRMS computes the Root Mean Square of audio samples.
func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
