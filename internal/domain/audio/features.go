package audio

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Frame geometry shared by the analyzer and the conditioner's noise gate.
const (
	frameLength = 2048
	hopLength   = 512
)

// frameCount returns the number of left-aligned analysis frames.
func frameCount(n int) int {
	if n <= frameLength {
		return 1
	}
	return 1 + (n-frameLength)/hopLength
}

// frameRMS computes per-frame root-mean-square energy.
func frameRMS(samples []float64) []float64 {
	count := frameCount(len(samples))
	rms := make([]float64, count)
	for f := 0; f < count; f++ {
		start := f * hopLength
		end := start + frameLength
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			continue
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += s * s
		}
		rms[f] = math.Sqrt(sum / float64(end-start))
	}
	return rms
}

// percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// spectralFrames applies a Hann window per frame and yields the magnitude
// spectrum of each via FFT.
func spectralFrames(samples []float64, fft *fourier.FFT, window []float64) [][]float64 {
	count := frameCount(len(samples))
	frames := make([][]float64, count)

	buf := make([]float64, frameLength)
	for f := 0; f < count; f++ {
		start := f * hopLength
		for i := 0; i < frameLength; i++ {
			if start+i < len(samples) {
				buf[i] = samples[start+i] * window[i]
			} else {
				buf[i] = 0
			}
		}

		coeffs := fft.Coefficients(nil, buf)
		mags := make([]float64, len(coeffs))
		for i, c := range coeffs {
			mags[i] = math.Hypot(real(c), imag(c))
		}
		frames[f] = mags
	}
	return frames
}

// melFilterbank builds triangular mel filters over numBins FFT bins,
// HTK-style mel scale.
func melFilterbank(numFilters, numBins, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	melToHz := func(mel float64) float64 {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}

	fMax := float64(sampleRate) / 2.0
	binFreqs := make([]float64, numBins)
	for i := range binFreqs {
		binFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	mMax := hzToMel(fMax)
	points := make([]float64, numFilters+2)
	for i := range points {
		points[i] = melToHz(float64(i) * mMax / float64(numFilters+1))
	}

	filters := make([][]float64, numFilters)
	for m := 0; m < numFilters; m++ {
		filters[m] = make([]float64, numBins)
		for k, freq := range binFreqs {
			lower := (freq - points[m]) / (points[m+1] - points[m])
			upper := (points[m+2] - freq) / (points[m+2] - points[m+1])
			val := math.Min(lower, upper)
			if val > 0 {
				filters[m][k] = val
			}
		}
	}
	return filters
}

// dct computes the orthonormal DCT-II of the input, keeping numCoeffs terms.
func dct(input []float64, numCoeffs int) []float64 {
	n := len(input)
	out := make([]float64, numCoeffs)
	scale0 := math.Sqrt(1.0 / float64(n))
	scale := math.Sqrt(2.0 / float64(n))
	for k := 0; k < numCoeffs && k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += input[i] * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(n))
		}
		if k == 0 {
			out[k] = sum * scale0
		} else {
			out[k] = sum * scale
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
