package service

import (
	"context"
	"time"

	"github.com/gajzzs/garmind/internal/archive"
	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
	"github.com/gajzzs/garmind/internal/session"
)

const disconnectTimeout = 15 * time.Second

// SyncResult summarises one connect, extract, archive and disconnect run.
type SyncResult struct {
	DeviceID   string
	Files      int
	ArchiveDir string
	archive.Result
}

// Sync connects to id, archives its activity files under archiveRoot and
// disconnects again. A device with no activity files is a successful sync.
// A device another caller already holds is refused with AlreadyConnecting
// and left alone. Bluetooth devices have no mounted storage: Sync pairs
// them, fails with NotMounted and leaves the pairing in place.
func Sync(ctx context.Context, coord *session.Coordinator, id, archiveRoot string, log logger.Logger) (SyncResult, error) {
	res := SyncResult{DeviceID: id}

	snap, err := coord.Acquire(ctx, id)
	if err != nil {
		return res, err
	}
	if snap.State == session.StateMounted {
		defer func() {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
			defer cancel()
			if err := coord.Disconnect(dctx, id); err != nil && !device.IsReason(err, device.ReasonNotConnected) {
				log.Warn().Err(err).Str("device_id", id).Msg("Disconnect after sync failed")
			}
		}()
	}

	entries, err := coord.ExtractFiles(ctx, id)
	if err != nil {
		return res, err
	}

	counted := func(yield func(device.ManifestEntry, error) bool) {
		for entry, err := range entries {
			if err == nil {
				res.Files++
			}
			if !yield(entry, err) {
				return
			}
		}
	}

	res.ArchiveDir = archive.DeviceDir(archiveRoot, snap.Device.DisplayName)
	res.Result, err = archive.Copy(ctx, counted, res.ArchiveDir, log)
	if err != nil {
		return res, err
	}

	log.Info().
		Str("device_id", id).
		Int("files", res.Files).
		Int("copied", res.Copied).
		Int("skipped", res.Skipped).
		Str("archive", res.ArchiveDir).
		Msg("Sync complete")
	return res, nil
}
