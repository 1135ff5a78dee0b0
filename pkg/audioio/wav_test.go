package audioio_test

import (
	"testing"

	"github.com/teslashibe/go-spaces/pkg/audioio"
)

func TestWAVRoundTrip(t *testing.T) {
	t.Run("samples survive bit-identical", func(t *testing.T) {
		samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345, 100, -100}

		wav := audioio.EncodeWAV(samples, 16000, 1)
		got, rate, channels, err := audioio.DecodeWAV(wav)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if rate != 16000 {
			t.Errorf("expected rate 16000, got %d", rate)
		}
		if channels != 1 {
			t.Errorf("expected 1 channel, got %d", channels)
		}
		if len(got) != len(samples) {
			t.Fatalf("expected %d samples, got %d", len(samples), len(got))
		}
		for i := range samples {
			if got[i] != samples[i] {
				t.Fatalf("sample %d: expected %d, got %d", i, samples[i], got[i])
			}
		}
	})

	t.Run("empty input yields empty data chunk", func(t *testing.T) {
		wav := audioio.EncodeWAV(nil, 48000, 2)
		got, rate, channels, err := audioio.DecodeWAV(wav)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if len(got) != 0 || rate != 48000 || channels != 2 {
			t.Errorf("unexpected result: %d samples, rate %d, channels %d", len(got), rate, channels)
		}
	})

	t.Run("header is 44 bytes", func(t *testing.T) {
		wav := audioio.EncodeWAV([]int16{1, 2, 3}, 24000, 1)
		if len(wav) != 44+6 {
			t.Errorf("expected 50 bytes, got %d", len(wav))
		}
	})
}

func TestDecodeWAVErrors(t *testing.T) {
	t.Run("garbage input", func(t *testing.T) {
		if _, _, _, err := audioio.DecodeWAV([]byte("not a wav file at all")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("truncated data chunk", func(t *testing.T) {
		wav := audioio.EncodeWAV([]int16{1, 2, 3, 4}, 16000, 1)
		if _, _, _, err := audioio.DecodeWAV(wav[:len(wav)-4]); err == nil {
			t.Error("expected error for truncated chunk")
		}
	})

	t.Run("unsupported bit depth", func(t *testing.T) {
		wav := audioio.EncodeWAV([]int16{1}, 16000, 1)
		wav[34] = 8 // bits per sample
		if _, _, _, err := audioio.DecodeWAV(wav); err != audioio.ErrUnsupportedFormat {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})
}

func TestResample(t *testing.T) {
	t.Run("same rate is identity", func(t *testing.T) {
		in := []int16{1, 2, 3}
		out := audioio.Resample(in, 48000, 48000)
		if len(out) != 3 {
			t.Fatalf("expected 3 samples, got %d", len(out))
		}
	})

	t.Run("downsample halves length", func(t *testing.T) {
		in := make([]int16, 960)
		out := audioio.Resample(in, 48000, 24000)
		if len(out) != 480 {
			t.Errorf("expected 480 samples, got %d", len(out))
		}
	})

	t.Run("upsample doubles length", func(t *testing.T) {
		in := make([]int16, 240)
		out := audioio.Resample(in, 24000, 48000)
		if len(out) != 480 {
			t.Errorf("expected 480 samples, got %d", len(out))
		}
	})
}

func TestAmplitude(t *testing.T) {
	t.Run("peak of silence is zero", func(t *testing.T) {
		if p := audioio.PeakAmplitude(make([]int16, 480)); p != 0 {
			t.Errorf("expected 0, got %d", p)
		}
	})

	t.Run("peak handles negative extremes", func(t *testing.T) {
		if p := audioio.PeakAmplitude([]int16{5, -32768, 7}); p != 32768 {
			t.Errorf("expected 32768, got %d", p)
		}
	})

	t.Run("mean abs", func(t *testing.T) {
		if m := audioio.MeanAbsAmplitude([]int16{10, -10, 10, -10}); m != 10 {
			t.Errorf("expected 10, got %f", m)
		}
	})
}
