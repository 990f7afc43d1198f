// Package synchronizer implements the DVB-S2 receiver synchronization
// cascade: Gardner symbol timing recovery, the pilot driven coarse
// frequency PLL, SOF/PLSC frame synchronization and the fine
// frequency/phase estimators, plus the fused per-sample step that chains
// the first stages.
//
// Every stage is a plain stateful value driven by the caller one block at a
// time. None of them spawns goroutines or blocks.
package synchronizer

import "errors"

var (
	// ErrAborted signals that the timing stage could not supply a full
	// output block. The output was zero padded and the stage stays usable;
	// the caller should drop the block and carry on.
	ErrAborted = errors.New("synchronizer: processing aborted, not enough symbols")

	// ErrInvalidConfig wraps every construction error.
	ErrInvalidConfig = errors.New("synchronizer: invalid configuration")

	// ErrLength reports a block whose size does not match the stage.
	ErrLength = errors.New("synchronizer: unexpected block length")

	// ErrUnknownKind reports an unrecognized synchronizer kind name.
	ErrUnknownKind = errors.New("synchronizer: unknown kind")
)
