package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/zeozeozeo/gomplerate"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

const (
	// TargetSampleRate is what the local recognizers expect.
	TargetSampleRate = 16000
	maxFrameSize     = 5760 // Max Opus frame size (120ms at 48kHz)

	// opusDecodeRate is the rate pion/opus always emits, whatever OpusHead says.
	opusDecodeRate = 48000

	// DefaultTranscodeTimeout bounds a single transcoder run.
	DefaultTranscodeTimeout = 60 * time.Second
)

// Normalizer converts compressed voice audio into raw 16kHz mono s16le PCM.
type Normalizer interface {
	Normalize(ctx context.Context, audio []byte) ([]byte, error)
}

// TranscodeError reports a failed transcoder run with its diagnostic output.
type TranscodeError struct {
	Err    error
	Stderr string
}

func (e *TranscodeError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("transcode failed: %v", e.Err)
	}
	return fmt.Sprintf("transcode failed: %v: %s", e.Err, msg)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// FFmpegNormalizer pipes audio through an ffmpeg-compatible binary.
type FFmpegNormalizer struct {
	bin     string
	timeout time.Duration
}

// NewFFmpegNormalizer resolves bin on PATH. A missing binary is fatal for the
// offline provider, so the error is returned at construction.
func NewFFmpegNormalizer(bin string, timeout time.Duration) (*FFmpegNormalizer, error) {
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (set FFMPEG_BIN or install ffmpeg): %v", ErrTranscoderNotFound, bin, err)
	}
	if timeout <= 0 {
		timeout = DefaultTranscodeTimeout
	}
	L_debug("stt: transcoder resolved", "bin", resolved, "timeout", timeout)
	return &FFmpegNormalizer{bin: resolved, timeout: timeout}, nil
}

// Normalize runs the transcoder with stdin = audio and stdout = PCM.
func (f *FFmpegNormalizer) Normalize(ctx context.Context, audio []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// #nosec G204 - bin comes from operator configuration, arguments are fixed
	cmd := exec.CommandContext(ctx, f.bin,
		"-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		L_warn("stt: transcoder timed out", "timeout", f.timeout, "bytes", len(audio))
		return nil, &TranscodeError{Err: ctxErr, Stderr: stderr.String()}
	}
	if err != nil {
		L_debug("stt: transcoder output", "stderr", stderr.String())
		return nil, &TranscodeError{Err: err, Stderr: stderr.String()}
	}

	L_debug("stt: audio normalized", "in", len(audio), "out", stdout.Len(), "duration", time.Since(start))
	return stdout.Bytes(), nil
}

// OpusNormalizer decodes Ogg/Opus in pure Go. It needs no external binary but
// the decoder supports fewer stream variants than ffmpeg.
type OpusNormalizer struct{}

// NewOpusNormalizer returns the pure-Go normalizer.
func NewOpusNormalizer() *OpusNormalizer {
	return &OpusNormalizer{}
}

// Normalize decodes, downmixes and resamples to 16kHz s16le.
func (OpusNormalizer) Normalize(ctx context.Context, audio []byte) ([]byte, error) {
	samples, err := decodeOggOpusSafe(audio)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return int16ToBytes(samples), nil
}

// decodeOggOpusSafe wraps decodeOggOpus with panic recovery.
// The pion/opus library has bugs that can cause panics on some files.
func decodeOggOpusSafe(audio []byte) (samples []int16, err error) {
	defer func() {
		if r := recover(); r != nil {
			L_warn("stt: pure Go decoder panicked, recovered", "panic", r)
			err = fmt.Errorf("decoder panic: %v", r)
			samples = nil
		}
	}()
	return decodeOggOpus(audio)
}

// decodeOggOpus decodes Ogg/Opus bytes to 16kHz mono int16 samples.
func decodeOggOpus(audio []byte) ([]int16, error) {
	ogg, header, err := oggreader.NewWith(bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("parse OGG container: %w", err)
	}

	channels := int(header.Channels)
	if channels < 1 {
		channels = 1
	}
	L_debug("stt: OGG header", "inputRate", header.SampleRate, "channels", channels)

	decoder := opus.NewDecoder()
	outBuf := make([]byte, maxFrameSize*channels*2)

	var allSamples []int16
	for {
		segments, _, err := ogg.ParseNextPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse OGG page: %w", err)
		}

		for _, segment := range segments {
			if len(segment) == 0 {
				continue
			}
			for i := range outBuf {
				outBuf[i] = 0
			}
			_, isStereo, err := decoder.Decode(segment, outBuf)
			if err != nil {
				// Header pages (OpusHead/OpusTags) land here too
				L_trace("stt: skipping packet", "error", err, "len", len(segment))
				continue
			}
			decoded := bytesToInt16(outBuf)
			if isStereo {
				decoded = toMono(decoded, 2)
			}
			allSamples = append(allSamples, decoded...)
		}
	}

	if len(allSamples) == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	return downsampleDecoded(allSamples), nil
}

// downsampleDecoded converts decoder output to TargetSampleRate.
func downsampleDecoded(samples []int16) []int16 {
	L_debug("stt: resampling", "from", opusDecodeRate, "to", TargetSampleRate)
	return resampleInt16(samples, opusDecodeRate, TargetSampleRate)
}

// bytesToInt16 converts a little-endian buffer to samples, dropping the
// all-zero tail left unused by the decoder.
func bytesToInt16(buf []byte) []int16 {
	end := len(buf) &^ 1
	for end >= 2 && buf[end-1] == 0 && buf[end-2] == 0 {
		end -= 2
	}
	samples := make([]int16, end/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:])) // #nosec G115 - reinterpretation of audio sample bits
	}
	return samples
}

// int16ToBytes encodes samples as s16le.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s)) // #nosec G115 - reinterpretation of audio sample bits
	}
	return out
}

// toMono converts multi-channel audio to mono by averaging channels.
func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels)) // #nosec G115 - average of int16 values fits int16
	}
	return mono
}

// resampleInt16 converts audio from one sample rate to another using gomplerate.
func resampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		L_warn("stt: resampler creation failed, skipping resample", "error", err)
		return samples
	}
	return resampler.ResampleInt16(samples)
}

// PCMToFloat32 converts s16le PCM to float32 samples normalized to [-1, 1].
func PCMToFloat32(pcm []byte) []float32 {
	result := make([]float32, len(pcm)/2)
	for i := range result {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:])) // #nosec G115 - reinterpretation of audio sample bits
		result[i] = float32(s) / 32768.0
	}
	return result
}
