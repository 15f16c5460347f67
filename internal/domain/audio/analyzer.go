package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
)

// QualityMetrics is the per-file quality value object. Immutable once
// computed.
type QualityMetrics struct {
	SNR              float64 `json:"snr"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	MFCCVariance     float64 `json:"mfcc_variance"`
	RMSEnergy        float64 `json:"rms_energy"`
	SilenceRatio     float64 `json:"silence_ratio"`
	QualityScore     float64 `json:"quality_score"`
}

// Comparison summarizes quality consistency across a batch of files.
type Comparison struct {
	FileCount        int      `json:"file_count"`
	AverageQuality   float64  `json:"average_quality"`
	AverageSNR       float64  `json:"average_snr"`
	ConsistencyScore float64  `json:"consistency_score"`
	QualityMin       float64  `json:"quality_min"`
	QualityMax       float64  `json:"quality_max"`
	Recommendations  []string `json:"recommendations"`
}

// Neutral fallbacks for degenerate signals. The analyzer never fails on
// numeric faults, it degrades to these.
const (
	fallbackSNR          = 30.0
	fallbackSilenceRatio = 0.5
	fallbackScore        = 50.0
	fallbackConsistency  = 50.0

	numMFCC       = 13
	numMelFilters = 26
)

// Analyzer computes objective quality metrics from a waveform.
type Analyzer struct {
	log     *logging.Logger
	rate    int
	fft     *fourier.FFT
	window  []float64
	melBank [][]float64
}

// NewAnalyzer creates an analyzer working at the given sample rate. Files at
// other rates are resampled on load, like the conditioner output rate.
func NewAnalyzer(sampleRate int, log *logging.Logger) *Analyzer {
	numBins := frameLength/2 + 1
	return &Analyzer{
		log:     log,
		rate:    sampleRate,
		fft:     fourier.NewFFT(frameLength),
		window:  hannWindow(frameLength),
		melBank: melFilterbank(numMelFilters, numBins, sampleRate),
	}
}

// Analyze computes all quality metrics for a mono waveform.
func (a *Analyzer) Analyze(samples []float64, sampleRate int) (QualityMetrics, error) {
	if len(samples) == 0 {
		return QualityMetrics{}, errors.New(errors.KindValidation, "audio.analyze", "empty waveform")
	}

	rms := frameRMS(samples)
	spectra := spectralFrames(samples, a.fft, a.window)

	m := QualityMetrics{
		SNR:              a.estimateSNR(rms),
		SpectralCentroid: a.spectralCentroid(spectra, sampleRate),
		SpectralRolloff:  a.spectralRolloff(spectra, sampleRate),
		ZeroCrossingRate: a.zeroCrossingRate(samples),
		MFCCVariance:     a.mfccVariance(spectra),
		RMSEnergy:        mean(rms),
		SilenceRatio:     a.silenceRatio(rms),
	}
	m.QualityScore = a.score(m)
	return m, nil
}

// AnalyzeFile decodes a file, downmixes it to mono, resamples it to the
// analyzer rate and analyzes it.
func (a *Analyzer) AnalyzeFile(path string) (QualityMetrics, error) {
	clip, err := ReadFile(path)
	if err != nil {
		return QualityMetrics{}, err
	}
	mono := downmix(clip)
	if clip.Rate != a.rate {
		mono = Resample(mono, clip.Rate, a.rate)
	}
	return a.Analyze(mono, a.rate)
}

// estimateSNR treats the median frame energy as signal and the 10th
// percentile as the noise floor. Result in dB, clamped to [0, 60].
func (a *Analyzer) estimateSNR(rms []float64) float64 {
	signal := percentile(rms, 50)
	noise := percentile(rms, 10)

	if noise <= 0 {
		return 60.0
	}
	snr := 20 * math.Log10(signal/noise)
	if !isFinite(snr) {
		return fallbackSNR
	}
	return math.Max(0, math.Min(60, snr))
}

func (a *Analyzer) spectralCentroid(spectra [][]float64, sampleRate int) float64 {
	perFrame := make([]float64, 0, len(spectra))
	binWidth := float64(sampleRate) / float64(frameLength)

	for _, mags := range spectra {
		var weighted, total float64
		for k, m := range mags {
			weighted += float64(k) * binWidth * m
			total += m
		}
		if total > 0 {
			perFrame = append(perFrame, weighted/total)
		}
	}

	c := mean(perFrame)
	if !isFinite(c) {
		return 0
	}
	return c
}

// spectralRolloff finds the frequency below which 85% of spectral energy
// lies, averaged over frames.
func (a *Analyzer) spectralRolloff(spectra [][]float64, sampleRate int) float64 {
	perFrame := make([]float64, 0, len(spectra))
	binWidth := float64(sampleRate) / float64(frameLength)

	for _, mags := range spectra {
		var total float64
		for _, m := range mags {
			total += m
		}
		if total <= 0 {
			continue
		}
		threshold := 0.85 * total
		var cum float64
		for k, m := range mags {
			cum += m
			if cum >= threshold {
				perFrame = append(perFrame, float64(k)*binWidth)
				break
			}
		}
	}

	r := mean(perFrame)
	if !isFinite(r) {
		return 0
	}
	return r
}

func (a *Analyzer) zeroCrossingRate(samples []float64) float64 {
	count := frameCount(len(samples))
	perFrame := make([]float64, count)

	for f := 0; f < count; f++ {
		start := f * hopLength
		end := start + frameLength
		if end > len(samples) {
			end = len(samples)
		}
		if end-start < 2 {
			continue
		}
		crossings := 0
		for i := start + 1; i < end; i++ {
			if (samples[i-1] >= 0) != (samples[i] >= 0) {
				crossings++
			}
		}
		perFrame[f] = float64(crossings) / float64(end-start)
	}
	return mean(perFrame)
}

// mfccVariance computes 13 MFCC coefficients per frame and averages their
// per-coefficient variance across time. High variance indicates varied
// speech, which clones better.
func (a *Analyzer) mfccVariance(spectra [][]float64) float64 {
	if len(spectra) == 0 {
		return 0
	}

	coeffs := make([][]float64, len(spectra))
	logMel := make([]float64, numMelFilters)
	for f, mags := range spectra {
		numBins := frameLength/2 + 1
		if len(mags) < numBins {
			numBins = len(mags)
		}
		for m := 0; m < numMelFilters; m++ {
			var sum float64
			for k := 0; k < numBins; k++ {
				power := mags[k] * mags[k]
				sum += power * a.melBank[m][k]
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			logMel[m] = math.Log(sum)
		}
		coeffs[f] = dct(logMel, numMFCC)
	}

	perCoeff := make([]float64, numMFCC)
	series := make([]float64, len(coeffs))
	for c := 0; c < numMFCC; c++ {
		for f := range coeffs {
			series[f] = coeffs[f][c]
		}
		sd := stddev(series)
		perCoeff[c] = sd * sd
	}

	v := mean(perCoeff)
	if !isFinite(v) {
		return 0
	}
	return v
}

// silenceRatio is the fraction of frames whose energy falls below the 20th
// percentile of all frame energies.
func (a *Analyzer) silenceRatio(rms []float64) float64 {
	if len(rms) == 0 {
		return fallbackSilenceRatio
	}
	threshold := percentile(rms, 20)
	silent := 0
	for _, v := range rms {
		if v < threshold {
			silent++
		}
	}
	return float64(silent) / float64(len(rms))
}

// score combines metrics into a composite 0-100 quality estimate. Each term
// is clamped before weighting; a non-finite result falls back to 50.
func (a *Analyzer) score(m QualityMetrics) float64 {
	snrScore := math.Min(100, math.Max(0, m.SNR*2))

	var silenceScore float64
	switch {
	case m.SilenceRatio >= 0.1 && m.SilenceRatio <= 0.3:
		silenceScore = 100
	case m.SilenceRatio < 0.1:
		silenceScore = m.SilenceRatio * 1000
	default:
		silenceScore = math.Max(0, 100-(m.SilenceRatio-0.3)*200)
	}

	rmsScore := math.Min(100, math.Max(0, m.RMSEnergy*500))
	mfccScore := math.Min(100, m.MFCCVariance*10)
	spectralScore := math.Min(100, math.Max(0,
		m.SpectralCentroid/4000*50+m.SpectralRolloff/8000*50))

	score := snrScore*0.3 + silenceScore*0.2 + rmsScore*0.15 +
		mfccScore*0.15 + spectralScore*0.2

	if !isFinite(score) {
		if a.log != nil {
			a.log.WarnTag("Analyzer", "non-finite quality score, using fallback")
		}
		return fallbackScore
	}
	return math.Max(0, math.Min(100, score))
}

// Recommendations renders human-readable advice for the given metrics. All
// thresholds are independent and may fire together.
func (a *Analyzer) Recommendations(m QualityMetrics) []string {
	var recs []string

	switch {
	case m.QualityScore < 30:
		recs = append(recs, "Very low audio quality - repeating the recording is recommended")
	case m.QualityScore < 50:
		recs = append(recs, "Low audio quality - improvements possible")
	case m.QualityScore < 70:
		recs = append(recs, "Acceptable audio quality")
	default:
		recs = append(recs, "Excellent audio quality")
	}

	if m.SNR < 15 {
		recs = append(recs, "Too much background noise - use a quieter environment")
	}

	if m.SilenceRatio > 0.5 {
		recs = append(recs, "Too much silence - use shorter pauses between words")
	} else if m.SilenceRatio < 0.05 {
		recs = append(recs, "Too few pauses - speak more naturally")
	}

	if m.RMSEnergy < 0.01 {
		recs = append(recs, "Audio too quiet - increase the recording volume")
	} else if m.RMSEnergy > 0.3 {
		recs = append(recs, "Audio too loud - reduce the recording volume")
	}

	if m.MFCCVariance < 0.5 {
		recs = append(recs, "Little speech variation - speak more expressively")
	}

	return recs
}

// Compare analyzes a batch of files and scores their mutual consistency.
func (a *Analyzer) Compare(paths []string) (Comparison, error) {
	if len(paths) < 1 {
		return Comparison{}, errors.New(errors.KindValidation, "audio.compare",
			"at least one audio file is required for comparison")
	}

	metrics := make([]QualityMetrics, 0, len(paths))
	for _, path := range paths {
		m, err := a.AnalyzeFile(path)
		if err != nil {
			return Comparison{}, err
		}
		metrics = append(metrics, m)
	}

	return a.CompareMetrics(metrics), nil
}

// CompareMetrics computes batch consistency from already-analyzed metrics.
func (a *Analyzer) CompareMetrics(metrics []QualityMetrics) Comparison {
	quality := make([]float64, len(metrics))
	snr := make([]float64, len(metrics))
	rms := make([]float64, len(metrics))
	for i, m := range metrics {
		quality[i] = m.QualityScore
		snr[i] = m.SNR
		rms[i] = m.RMSEnergy
	}

	consistency := 100 - math.Min(100, (stddev(quality)+stddev(snr)*2+stddev(rms)*100)/3)
	if !isFinite(consistency) {
		consistency = fallbackConsistency
	}
	consistency = math.Max(0, consistency)

	qMin, qMax := quality[0], quality[0]
	for _, q := range quality[1:] {
		qMin = math.Min(qMin, q)
		qMax = math.Max(qMax, q)
	}

	return Comparison{
		FileCount:        len(metrics),
		AverageQuality:   mean(quality),
		AverageSNR:       mean(snr),
		ConsistencyScore: consistency,
		QualityMin:       qMin,
		QualityMax:       qMax,
		Recommendations:  consistencyRecommendations(consistency, qMax-qMin),
	}
}

func consistencyRecommendations(consistency, qualityRange float64) []string {
	var recs []string

	switch {
	case consistency < 50:
		recs = append(recs,
			"Low consistency between audio files",
			"Use the same microphone and environment for all recordings",
			"Keep distance and volume constant")
	case consistency < 70:
		recs = append(recs,
			"Acceptable consistency",
			"Small improvements in recording quality are possible")
	default:
		recs = append(recs, "Very consistent audio quality")
	}

	if qualityRange > 30 {
		recs = append(recs, "Large quality differences between files")
	}

	return recs
}

// downmix folds interleaved multi-channel samples into mono.
func downmix(clip Clip) []float64 {
	if clip.Channels <= 1 {
		return clip.Samples
	}
	n := len(clip.Samples) / clip.Channels
	mono := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < clip.Channels; c++ {
			sum += clip.Samples[i*clip.Channels+c]
		}
		mono[i] = sum / float64(clip.Channels)
	}
	return mono
}
