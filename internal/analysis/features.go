package analysis

import (
	"math"
	"strconv"
	"strings"

	"github.com/five82/biokey/internal/state"
)

const (
	// SequenceGap ends a key-down sequence when the next key-down arrives
	// later than this many milliseconds.
	SequenceGap = 150

	// FrameLength is the number of feature vectors kept per frame queue.
	FrameLength = 100

	shortFrame = 40
	longFrame  = 100
)

type keyDown struct {
	key rune
	at  int64
	seq int64
}

// completed is a key sequence whose final key has been released.
type completed struct {
	name     string
	duration int64
	start    int64
	end      int64
	score    float64
}

// Frames is the scorer input. Each queue holds FrameLength vectors of one
// value per modelled sequence, oldest first.
type Frames struct {
	Raw  [][]float64 `json:"x_raw"`
	F40  [][]float64 `json:"x_40"`
	F100 [][]float64 `json:"x_100"`

	// Recent holds the gaussian scores of sequences that started within the
	// last 40 key-downs. It is not sent to external scorers.
	Recent []float64 `json:"-"`
}

// tracker turns keystrokes into per-sequence gaussian scores and feature
// frames. It is not safe for concurrent use.
type tracker struct {
	profile map[string]state.GaussianFeature
	size    int

	seq       int64
	current   []keyDown
	running   map[rune][]keyDown
	completed []completed

	raw, f40, f100 [][]float64
}

func newTracker(profile map[string]state.GaussianFeature) *tracker {
	size := 0
	for _, f := range profile {
		if f.Index+1 > size {
			size = f.Index + 1
		}
	}
	t := &tracker{profile: profile, size: size, running: make(map[rune][]keyDown)}
	t.raw = fill(FrameLength, size, 0)
	t.f40 = fill(FrameLength, size, 0.5)
	t.f100 = fill(FrameLength, size, 0.5)
	return t
}

func fill(n, size int, v float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = vector(size, v)
	}
	return out
}

func vector(size int, v float64) []float64 {
	vec := make([]float64, size)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

// GaussianScore rates how typical a duration is for a sequence whose log
// durations have the given mean and standard deviation. It is 1 at the mean.
func GaussianScore(durationMs int64, mean, stdev float64) float64 {
	if durationMs <= 0 || stdev <= 0 {
		return 0
	}
	d := math.Log(float64(durationMs)) - mean
	return math.Exp(-(d * d) / (2 * stdev * stdev))
}

// sequenceName joins key codes oldest first, e.g. "72-73".
func sequenceName(keys []keyDown) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(k.key)))
	}
	return b.String()
}

// observe feeds one keystroke. It reports whether a key-up completed at least
// one sequence, which is when new features are available.
func (t *tracker) observe(k state.KeyStroke) bool {
	if k.KeyDown {
		next := keyDown{key: k.Char, at: k.Timestamp, seq: t.seq}
		t.seq++
		if n := len(t.current); n > 0 && next.at-t.current[n-1].at > SequenceGap {
			t.current = nil
		}
		t.current = append(t.current, next)
		// Each key remembers the sequence as it stood when it went down.
		t.running[k.Char] = append([]keyDown(nil), t.current...)
		return false
	}

	chain, ok := t.running[k.Char]
	delete(t.running, k.Char)
	if !ok || len(chain) == 0 {
		return false
	}
	last := chain[len(chain)-1]
	for i := len(chain) - 1; i >= 0; i-- {
		start := chain[i]
		name := sequenceName(chain[i:])
		f, known := t.profile[name]
		if !known {
			continue
		}
		dur := k.Timestamp - start.at
		t.completed = append(t.completed, completed{
			name:     name,
			duration: dur,
			start:    start.seq,
			end:      last.seq,
			score:    GaussianScore(dur, f.Mean, f.Stdev),
		})
	}
	t.prune()
	t.pushFrames()
	return true
}

// prune drops sequences too old to appear in any frame.
func (t *tracker) prune() {
	keep := t.completed[:0]
	for _, c := range t.completed {
		if t.seq-c.start <= longFrame {
			keep = append(keep, c)
		}
	}
	t.completed = keep
}

func (t *tracker) pushFrames() {
	raw := vector(t.size, 0)
	f40 := vector(t.size, 0.5)
	f100 := vector(t.size, 0.5)

	sum40, n40 := map[string]float64{}, map[string]int{}
	sum100, n100 := map[string]float64{}, map[string]int{}
	for _, c := range t.completed {
		idx := t.profile[c.name].Index
		if idx < 0 || idx >= t.size {
			continue
		}
		age := t.seq - c.start
		if age <= longFrame {
			sum100[c.name] += c.score
			n100[c.name]++
		}
		if age <= shortFrame {
			sum40[c.name] += c.score
			n40[c.name]++
		}
		if c.end == t.seq-1 && c.duration > 0 {
			raw[idx] = math.Log(float64(c.duration))
		}
	}
	for name, s := range sum40 {
		f40[t.profile[name].Index] = s / float64(n40[name])
	}
	for name, s := range sum100 {
		f100[t.profile[name].Index] = s / float64(n100[name])
	}

	t.raw = append(t.raw[1:], raw)
	t.f40 = append(t.f40[1:], f40)
	t.f100 = append(t.f100[1:], f100)
}

// frames returns a copy of the current feature frames.
func (t *tracker) frames() Frames {
	fr := Frames{
		Raw:  cloneFrame(t.raw),
		F40:  cloneFrame(t.f40),
		F100: cloneFrame(t.f100),
	}
	for _, c := range t.completed {
		if t.seq-c.start <= shortFrame {
			fr.Recent = append(fr.Recent, c.score)
		}
	}
	return fr
}

func cloneFrame(f [][]float64) [][]float64 {
	out := make([][]float64, len(f))
	for i, v := range f {
		out[i] = append([]float64(nil), v...)
	}
	return out
}
