package domain

type Direction int

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// TransferJob is the single active transfer of one direction.
type TransferJob struct {
	Direction       Direction
	Name            string
	MIME            string
	TrackID         string
	TotalBytes      int64
	TotalChunks     int
	CompletedChunks int
	// Buffer holds received blocks in arrival order. Unused on the send side.
	Buffer [][]byte

	lastPercent int
}

// Done reports whether every announced chunk has been accounted for.
func (j *TransferJob) Done() bool {
	return j.TotalChunks > 0 && j.CompletedChunks >= j.TotalChunks
}

// Percent returns the rounded progress, never lower than a previous value.
// ok is false when the total is unknown.
func (j *TransferJob) Percent() (pct int, ok bool) {
	if j.TotalChunks <= 0 {
		return j.lastPercent, false
	}
	pct = (j.CompletedChunks*100 + j.TotalChunks/2) / j.TotalChunks
	if pct > 100 {
		pct = 100
	}
	if pct < j.lastPercent {
		pct = j.lastPercent
	}
	j.lastPercent = pct
	return pct, true
}

// Size sums buffered bytes.
func (j *TransferJob) Size() int {
	n := 0
	for _, b := range j.Buffer {
		n += len(b)
	}
	return n
}
