// SPDX-License-Identifier: MIT
package measure

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"freqresp/internal/fft"
	"freqresp/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSampleRate = 48000
	testGate       = 480 // ceil(10 ms × 48 kHz)

	// Frames for a full sweep over quiet input: the first gate, the first
	// capture, then one gate frame plus one capture per remaining bin.
	quietSweepFrames = testGate + fft.Size + (Bins-1)*(fft.Size+1)

	maxSweepFrames = 4_000_000
)

func newTestSession(t testing.TB) *Session {
	t.Helper()
	s, err := NewSession(testSampleRate)
	require.NoError(t, err)
	return s
}

func quiet(int) float32 { return 0 }
func loud(int) float32  { return 0.5 }

func TestSilenceFramesNeeded(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{8000, 80},
		{22050, 221},
		{44100, 441},
		{48000, 480},
		{96000, 960},
		{44100.5, 442},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SilenceFramesNeeded(tt.rate), "rate %v", tt.rate)
		assert.Equal(t, int(math.Ceil(0.010*tt.rate)), SilenceFramesNeeded(tt.rate), "rate %v", tt.rate)
	}
}

func TestNewSessionRejectsBadRate(t *testing.T) {
	for _, rate := range []float64{0, -48000, math.NaN(), math.Inf(1)} {
		s, err := NewSession(rate)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, ErrInvalidSampleRate)
	}
}

func TestSessionInitialState(t *testing.T) {
	s := newTestSession(t)

	bin, ok := s.CurrentBin()
	assert.False(t, ok)
	assert.Zero(t, bin)
	assert.Equal(t, StateAwaitingStart, s.State())
	assert.Equal(t, testGate, s.SilenceFramesNeeded())
	assert.False(t, s.Started())
	assert.False(t, s.Finished())
}

func TestProcessIsSilentBeforeStart(t *testing.T) {
	s := newTestSession(t)

	in := make([]float32, 256)
	out := make([]float32, 256)
	for i := range in {
		in[i] = 0
		out[i] = 0.75 // garbage left by the host
	}
	for range 100 {
		s.Process(in, out)
	}

	for i, v := range out {
		require.Zero(t, v, "frame %d", i)
	}
	assert.Zero(t, s.silenceRun, "silence counter must not run before start")
	assert.Equal(t, StateAwaitingStart, s.State())
}

func TestStartEntersAwaitingSilence(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	assert.True(t, s.Started())

	// Start is only observed by the audio thread.
	assert.Equal(t, StateAwaitingStart, s.State())

	s.Process(make([]float32, 16), make([]float32, 16))
	bin, ok := s.CurrentBin()
	assert.True(t, ok)
	assert.Zero(t, bin)
	assert.Equal(t, StateAwaitingSilence, s.State())
}

func TestLoudInputNeverAdvances(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	frames := utils.Drive(s, loud, []int{256}, s.Finished, 1000*256)
	assert.Equal(t, 1000*256, frames)

	bin, ok := s.CurrentBin()
	assert.True(t, ok)
	assert.Zero(t, bin)
	assert.Equal(t, StateAwaitingSilence, s.State())
	assert.False(t, s.Finished())

	out := utils.Replay(s, loud, []int{256}, 4096)
	for i, v := range out {
		require.Zero(t, v, "frame %d", i)
	}
}

func TestGateOpensAfterDebounce(t *testing.T) {
	for _, size := range []int{1, 100, 1000} {
		s := newTestSession(t)
		s.Start()

		out := utils.Replay(s, quiet, []int{size}, testGate+2)
		assert.Zero(t, out[testGate-1], "size %d", size)
		assert.Equal(t, float32(1), out[testGate], "size %d: bin 0 is a unit DC probe", size)
		assert.Equal(t, StateCapturing, s.State(), "size %d", size)
	}
}

func TestLoudBurstRestartsDebounce(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	// One loud frame in the middle of the quiet run restarts the count.
	src := func(n int) float32 {
		if n == 300 {
			return 0.2
		}
		return 0
	}
	out := utils.Replay(s, src, []int{64}, 302+testGate)
	assert.Zero(t, out[300+testGate])
	assert.Equal(t, float32(1), out[301+testGate])
}

func TestBinIndexAdvancesByOne(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	last := -1
	in := make([]float32, 1)
	out := make([]float32, 1)
	frames := 0
	for !s.Finished() && frames < maxSweepFrames {
		s.Process(in, out)
		frames++

		bin, ok := s.CurrentBin()
		require.True(t, ok)
		require.GreaterOrEqual(t, bin, last)
		require.LessOrEqual(t, bin-last, 1)
		if bin != last {
			last = bin
		}
	}

	require.True(t, s.Finished())
	assert.Equal(t, quietSweepFrames, frames)
	bin, _ := s.CurrentBin()
	assert.Equal(t, Bins, bin)
	assert.Equal(t, StateDone, s.State())
}

func TestOutputSilentAfterDone(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	utils.Drive(s, quiet, []int{512}, s.Finished, maxSweepFrames)
	require.True(t, s.Finished())

	out := utils.Replay(s, loud, []int{333}, 5000)
	for i, v := range out {
		require.Zero(t, v, "frame %d", i)
	}
}

func TestToneTailFillsRestOfBuffer(t *testing.T) {
	// Bin 0 captures frames 480..2527. The input turns loud right after,
	// so the gate for bin 1 stays shut until frame 4007.
	src := func(n int) float32 {
		if n >= 2528 && n < 3528 {
			return 0.5
		}
		return 0
	}

	s := newTestSession(t)
	s.Start()
	out := utils.Replay(s, src, []int{4000, 100}, 4100)

	for n := 2528; n < 4000; n++ {
		require.Equal(t, float32(1), out[n], "tail frame %d", n)
	}
	for n := 4000; n < 4008; n++ {
		require.Zero(t, out[n], "gated frame %d", n)
	}
	assert.Equal(t, float32(1), out[4008])
	assert.InDelta(t, math.Cos(2*math.Pi/fft.Size), out[4009], 1e-6)

	// With one-frame buffers the capture ends with its buffer: no tail.
	s = newTestSession(t)
	s.Start()
	out = utils.Replay(s, src, []int{1}, 4100)
	assert.Zero(t, out[2528])
	assert.Equal(t, float32(1), out[4008])
}

func TestChunkSizeIndependence(t *testing.T) {
	// Quiet noise with periodic loud bursts that hold the gate shut.
	noise := utils.Noise(0x5eed, 0.009)
	src := func(n int) float32 {
		if n%7001 < 400 && n > 5000 {
			return 0.3
		}
		return noise(n)
	}

	chunkings := [][]int{
		{1},
		{fft.Size},
		{64},
		{7},
		{3000},
		{13, 1, 500, 2048, 77},
	}

	var want []complex128
	for _, sizes := range chunkings {
		s := newTestSession(t)
		s.Start()
		utils.Drive(s, src, sizes, s.Finished, maxSweepFrames)
		require.True(t, s.Finished(), "sizes %v", sizes)

		got, err := s.Response()
		require.NoError(t, err)
		if want == nil {
			want = got
			continue
		}
		for k := range want {
			require.Equal(t, want[k], got[k], "sizes %v bin %d", sizes, k)
		}
	}
}

func TestLoopBackCalibration(t *testing.T) {
	const delay = 64

	for _, sizes := range [][]int{{64}, {1, 7, 32, 64}} {
		s := newTestSession(t)
		s.Start()

		lb := &utils.LoopBack{Delay: delay, Gain: 1, Sizes: sizes}
		lb.Run(s, s.Finished, 2*maxSweepFrames)
		require.True(t, s.Finished(), "sizes %v", sizes)

		response, err := s.Response()
		require.NoError(t, err)
		cg := s.transform.CoherentGain()

		for k, c := range response {
			// Undo the loop-back delay of 64 frames.
			r := c * cmplx.Rect(1, 2*math.Pi*float64(k*delay)/fft.Size)
			amp := cmplx.Abs(r) / fft.Size

			switch {
			case k == 0 || k == fft.Size/2:
				assert.InDelta(t, cg, amp, 0.01*cg, "bin %d", k)
				assert.InDelta(t, 0, Phase(r), 0.01, "bin %d", k)
			case k == 1 || k == fft.Size/2-1:
				// The negative-frequency image sits two bins away, inside
				// the window's main lobe, and adds about 5% of cg.
				assert.InDelta(t, cg/2, amp, 0.1*cg, "bin %d", k)
				assert.InDelta(t, 0, Phase(r), 0.1, "bin %d", k)
			default:
				assert.InDelta(t, cg/2, amp, 0.01*cg, "bin %d", k)
				assert.InDelta(t, 0, Phase(r), 0.02, "bin %d", k)
			}
		}
	}
}

func TestResultsBeforeFinish(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	utils.Drive(s, quiet, []int{256}, s.Finished, 10_000)

	_, err := s.Response()
	assert.ErrorIs(t, err, ErrNotFinished)
	bins, err := s.Results()
	assert.ErrorIs(t, err, ErrNotFinished)
	assert.Nil(t, bins)
}

func TestResults(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	utils.Drive(s, utils.Noise(3, 0.005), []int{480}, s.Finished, maxSweepFrames)
	require.True(t, s.Finished())

	bins, err := s.Results()
	require.NoError(t, err)
	require.Len(t, bins, 1025)

	assert.Equal(t, 0.0, bins[0].Frequency)
	assert.Equal(t, testSampleRate/2.0, bins[len(bins)-1].Frequency)
	for i, b := range bins {
		assert.Equal(t, i, b.Index)
		if i > 0 {
			assert.Greater(t, b.Frequency, bins[i-1].Frequency)
		}
		assert.InDelta(t, cmplx.Abs(b.Value)/fft.Size, b.Amplitude, 1e-15)
		assert.Greater(t, b.Phase, -math.Pi)
		assert.LessOrEqual(t, b.Phase, math.Pi)
	}
}

func TestPhaseFolding(t *testing.T) {
	assert.Equal(t, math.Pi, Phase(complex(-1, 0)))
	assert.Equal(t, math.Pi, Phase(complex(-1, math.Copysign(0, -1))))
	assert.InDelta(t, -math.Pi/2, Phase(complex(0, -1)), 1e-15)
	assert.Equal(t, 0.0, Phase(0))
}

func TestProgress(t *testing.T) {
	s := newTestSession(t)

	p := s.Progress()
	assert.False(t, p.HasBin)
	assert.Equal(t, Bins, p.Total)
	assert.Equal(t, "Progress -/1025", p.String())
	assert.Equal(t, 0.0, p.Fraction())
	assert.Equal(t, peakFloorDB, p.PeakDBFS)

	s.Start()
	utils.Drive(s, loud, []int{128}, s.Finished, 128)
	p = s.Progress()
	assert.True(t, p.HasBin)
	assert.Equal(t, "awaiting-silence", p.Phase)
	assert.Equal(t, "Progress 1/1025", p.String())
	assert.InDelta(t, 20*math.Log10(0.5), p.PeakDBFS, 1e-6)

	utils.Drive(s, quiet, []int{4096}, s.Finished, maxSweepFrames)
	p = s.Progress()
	assert.True(t, p.Finished)
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, "Progress 1025/1025", p.String())
	assert.Equal(t, 1.0, p.Fraction())
}

func TestWait(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	go utils.Drive(s, quiet, []int{256}, s.Finished, maxSweepFrames)

	var mu sync.Mutex
	var seen []Progress
	err := s.Wait(context.Background(), time.Millisecond, func(p Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.True(t, s.Finished())

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Bin, seen[i-1].Bin)
	}
}

func TestWaitCancelled(t *testing.T) {
	s := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Wait(ctx, time.Millisecond, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNoEarlyRead races a control goroutine against the audio goroutine
// with random buffer sizes. The response table may only be read after the
// finished latch is seen, and must then be complete.
func TestNoEarlyRead(t *testing.T) {
	for seed := int64(1); seed <= 2; seed++ {
		rng := rand.New(rand.NewSource(seed))
		sizes := make([]int, 32)
		for i := range sizes {
			sizes[i] = 1 + rng.Intn(1024)
		}

		s := newTestSession(t)
		s.Start()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := utils.Noise(uint32(seed), 0.005)
			in := make([]float32, 1024)
			out := make([]float32, 1024)
			frame := 0
			for k := 0; !s.Finished(); k++ {
				n := sizes[k%len(sizes)]
				for i := 0; i < n; i++ {
					in[i] = src(frame + i)
				}
				s.Process(in[:n], out[:n])
				frame += n
				if k%97 == 0 {
					runtime.Gosched()
				}
			}
		}()

		for !s.Finished() {
			_, err := s.Response()
			if err == nil {
				// Finished flipped between the two loads.
				break
			}
			require.ErrorIs(t, err, ErrNotFinished)
			time.Sleep(time.Duration(rng.Intn(200)) * time.Microsecond)
		}

		response, err := s.Response()
		require.NoError(t, err)
		for k, c := range response {
			require.NotZero(t, c, "seed %d bin %d", seed, k)
		}
		wg.Wait()
	}
}

func TestProcessHotPath(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	in := make([]float32, 512)
	out := make([]float32, 512)
	src := utils.Noise(9, 0.005)
	for i := range in {
		in[i] = src(i)
	}
	s.Process(in, out) // warm-up

	// 100 × 512 frames covers many complete capture windows.
	allocs := testing.AllocsPerRun(100, func() {
		s.Process(in, out)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Process hot path, got %.1f", allocs)
	}
}

func BenchmarkProcess(b *testing.B) {
	s := newTestSession(b)
	s.Start()

	in := make([]float32, 256)
	out := make([]float32, 256)
	b.ReportAllocs()

	for b.Loop() {
		s.Process(in, out)
		if s.Finished() {
			b.StopTimer()
			s = newTestSession(b)
			s.Start()
			b.StartTimer()
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-start", StateAwaitingStart.String())
	assert.Equal(t, "awaiting-silence", StateAwaitingSilence.String())
	assert.Equal(t, "capturing", StateCapturing.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "unknown", State(42).String())
}
