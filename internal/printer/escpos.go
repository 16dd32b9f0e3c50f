package printer

import "time"

// ESC/POS control bytes used on the transport side.
const (
	DLE byte = 0x10
	EOT byte = 0x04
	ESC byte = 0x1B
	GS  byte = 0x1D
)

// paperStatusQuery is DLE EOT 4, the real-time roll paper sensor status.
var paperStatusQuery = []byte{DLE, EOT, 4}

// Paper-end sensor bits of the DLE EOT 4 reply. Bits 2-3 (near-end) are
// advisory and do not fail a job.
const paperEndBits = 0x60

// statusReadTimeout bounds the wait for a status reply. Printers that do not
// answer are treated as having paper.
const statusReadTimeout = 500 * time.Millisecond

// Stale input is drained before a status query, in reads of at most
// drainWait each.
const (
	drainWait     = 10 * time.Millisecond
	maxDrainReads = 16
)

// parsePaperStatus interprets a DLE EOT 4 reply. Valid replies have bit 4
// set and bit 7 clear; anything else is ignored.
func parsePaperStatus(b byte) error {
	if b&0x90 != 0x10 {
		return nil
	}
	if b&paperEndBits == paperEndBits {
		return ErrPaperOut
	}
	return nil
}
