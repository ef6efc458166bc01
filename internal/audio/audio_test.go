package audio

import "testing"

func TestResample16kTo24kLengthLaw(t *testing.T) {
	cases := []int{0, 1, 2, 320, 321, 480, 1000}
	for _, n := range cases {
		pcm := make([]byte, n*2)
		for i := 0; i < n; i++ {
			pcm[2*i] = byte(i)
			pcm[2*i+1] = byte(i >> 8)
		}
		out := Resample16kTo24k(pcm)
		gotSamples := len(out) / 2
		want := (n * 3) / 2
		if gotSamples != want {
			t.Errorf("n=%d: got %d output samples, want %d", n, gotSamples, want)
		}
	}
}

func TestResample16kTo24kFrameSize(t *testing.T) {
	pcm := make([]byte, FrameSamplesForTest*2)
	out := Resample16kTo24k(pcm)
	if len(out)/2 != 480 {
		t.Fatalf("20ms 16kHz frame should resample to 480 samples, got %d", len(out)/2)
	}
}

// FrameSamplesForTest avoids importing internal/config from a _test.go file
// that otherwise has no dependency on it; the client frame size is fixed at
// 320 samples (16000 * 20ms).
const FrameSamplesForTest = 320

func TestCalculateLevelSilence(t *testing.T) {
	if got := CalculateLevel(nil); got != silenceFloorDB {
		t.Errorf("empty input: got %v, want %v", got, silenceFloorDB)
	}

	silent := make([]byte, 640)
	if got := CalculateLevel(silent); got != silenceFloorDB {
		t.Errorf("all-zero input: got %v, want %v", got, silenceFloorDB)
	}
}

func TestCalculateLevelBounds(t *testing.T) {
	loud := make([]byte, 640)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0xff
		loud[i+1] = 0x7f // max positive int16 each sample
	}
	got := CalculateLevel(loud)
	if got > 0 || got < silenceFloorDB {
		t.Errorf("level %v out of [-60, 0] bounds", got)
	}
	if got < -1 {
		t.Errorf("full-scale tone should be near 0 dB, got %v", got)
	}
}

func TestCalculateLevelMonotonic(t *testing.T) {
	quiet := make([]byte, 640)
	for i := 0; i < len(quiet); i += 2 {
		quiet[i] = 0x10
	}
	loud := make([]byte, 640)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0xff
		loud[i+1] = 0x0f
	}
	if CalculateLevel(loud) <= CalculateLevel(quiet) {
		t.Errorf("louder signal should report a higher dB level")
	}
}
