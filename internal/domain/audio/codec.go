// Package audio implements the signal-processing core: wav/mp3 decoding,
// quality analysis and the conditioning pipeline for voice cloning samples.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	"voicestudio-server/internal/platform/errors"
)

// Clip holds decoded audio. Samples are interleaved when Channels > 1 and
// normalized to [-1, 1].
type Clip struct {
	Samples  []float64
	Rate     int
	Channels int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.Rate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.Rate*c.Channels)
}

// Info describes an audio file without keeping its samples around.
type Info struct {
	Duration   float64
	SampleRate int
	Channels   int
	Frames     int
	Format     string
}

// ReadFile decodes a wav or mp3 file into a Clip.
func ReadFile(path string) (Clip, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return readWAV(path)
	case ".mp3":
		return readMP3(path)
	default:
		return Clip{}, errors.Newf(errors.KindValidation, "audio.read",
			"unsupported file type: %s", filepath.Ext(path))
	}
}

// ReadInfo decodes just enough of a file to report its format metadata.
func ReadInfo(path string) (Info, error) {
	clip, err := ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Duration:   clip.Duration(),
		SampleRate: clip.Rate,
		Channels:   clip.Channels,
		Frames:     len(clip.Samples) / clip.Channels,
		Format:     strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}, nil
}

func readWAV(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, errors.Wrap(errors.KindAudio, "audio.read", "read wav file", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, errors.New(errors.KindAudio, "audio.read", "not a RIFF/WAVE file")
	}

	var (
		channels      int
		sampleRate    int
		bitsPerSample int
		pcm           []byte
	)

	// Walk the chunk list; fmt must precede data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Clip{}, errors.New(errors.KindAudio, "audio.read", "truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return Clip{}, errors.Newf(errors.KindAudio, "audio.read",
					"unsupported wav encoding: %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if channels == 0 || sampleRate == 0 {
		return Clip{}, errors.New(errors.KindAudio, "audio.read", "missing fmt chunk")
	}
	if bitsPerSample != 16 {
		return Clip{}, errors.Newf(errors.KindAudio, "audio.read",
			"unsupported bit depth: %d", bitsPerSample)
	}
	if pcm == nil {
		return Clip{}, errors.New(errors.KindAudio, "audio.read", "missing data chunk")
	}

	n := len(pcm) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
		samples[i] = float64(s) / math.MaxInt16
	}

	return Clip{Samples: samples, Rate: sampleRate, Channels: channels}, nil
}

func readMP3(path string) (Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return Clip{}, errors.Wrap(errors.KindAudio, "audio.read", "open mp3 file", err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return Clip{}, errors.Wrap(errors.KindAudio, "audio.read", "decode mp3", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return Clip{}, errors.Wrap(errors.KindAudio, "audio.read", "read mp3 stream", err)
	}

	// go-mp3 always emits 16-bit stereo.
	n := len(raw) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[2*i : 2*i+2]))
		samples[i] = float64(s) / math.MaxInt16
	}

	return Clip{Samples: samples, Rate: decoder.SampleRate(), Channels: 2}, nil
}

// WriteWAV writes mono float64 samples as a 16-bit PCM wav file.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.KindAudio, "audio.write", "create wav file", err)
	}
	defer file.Close()

	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * 2)

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := file.Write(header[:]); err != nil {
		return errors.Wrap(errors.KindAudio, "audio.write", "write wav header", err)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(pcm[2*i:2*i+2], uint16(int16(s*math.MaxInt16)))
	}
	if _, err := file.Write(pcm); err != nil {
		return errors.Wrap(errors.KindAudio, "audio.write", "write pcm data", err)
	}

	return nil
}

// CopyFile duplicates a file on disk, used for preview artifacts.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return nil
}
