package journal

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
)

const checkpointFile = "checkpoint.bin"

// checkpoint is the folded state of every log record up to Seq.
type checkpoint struct {
	Seq    uint64
	LastID int64
	Orders []orderbook.Order
	Trades []ledger.Trade
}

// readCheckpoint returns a zero checkpoint when none has been written.
func readCheckpoint(dir string) (checkpoint, error) {
	var cp checkpoint
	f, err := os.Open(filepath.Join(dir, checkpointFile))
	if errors.Is(err, fs.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return cp, err
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		return checkpoint{}, fmt.Errorf("%w: checkpoint: %v", ErrBadRecord, err)
	}
	return cp, nil
}

// writeCheckpoint replaces the checkpoint atomically.
func writeCheckpoint(dir string, cp checkpoint) error {
	tmp := filepath.Join(dir, checkpointFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&cp); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, checkpointFile)); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
