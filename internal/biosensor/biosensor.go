// Package biosensor implements the Bio-sensor Client (§6, consumed):
// "produce a valid reading or time out". The wire transport (MQTT in the
// original) is out of scope (§1) — no MQTT client library exists anywhere
// in the retrieved example pack to ground a real one on, so Source is an
// interface a simulated or future real feed implements, and Client wraps
// it with the wait/retry/persistence policy the engine depends on.
package biosensor

import (
	"context"
	"fmt"
	"time"

	"biopatrol/internal/logging"
	"biopatrol/internal/scanstore"
)

// Reading is one raw sample as delivered by the sensor feed.
type Reading struct {
	Status int
	BPM    int
	RPM    int
}

// ScanPayload is returned to the caller on a successful scan.
type ScanPayload struct {
	TaskID     string
	LocationID string
	BedName    string
	BPM        int
	RPM        int
}

// Source is the raw feed the client polls. LatestReading returns the most
// recently received sample and whether one has ever arrived; it never
// blocks. A real implementation would update its cached reading from an
// MQTT subscription callback the way the original client does.
type Source interface {
	LatestReading() (Reading, bool)
}

// NoSource is a Source that never produces a reading. It is the runtime's
// default when no real feed is wired, so a bio_scan step always resolves
// deterministically (times out to nil, nil) instead of panicking on a nil
// interface.
type NoSource struct{}

// LatestReading always reports no data.
func (NoSource) LatestReading() (Reading, bool) { return Reading{}, false }

var _ Source = NoSource{}

// Config carries the client's internal wait/retry policy (§6: "Client
// encapsulates its own internal retry/wait policy and persistence").
type Config struct {
	InitialWait time.Duration
	WaitTime    time.Duration
	MaxRetries  int
	ValidStatus int
}

// DefaultConfig mirrors the original's runtime-setting defaults
// (bio_scan_initial_wait=120s, bio_scan_wait_time=10s,
// bio_scan_retry_count=19, bio_scan_valid_status=4).
func DefaultConfig() Config {
	return Config{
		InitialWait: 120 * time.Second,
		WaitTime:    10 * time.Second,
		MaxRetries:  19,
		ValidStatus: 4,
	}
}

// Client is the Bio-sensor Client consumed by the engine's bio_scan step.
type Client struct {
	source Source
	store  scanstore.Store
	cfg    Config
	logger logging.Logger
	sleep  func(context.Context, time.Duration) error
}

// New builds a Client. store receives one row, with retry_count and
// is_valid, for every attempt that found a reading, valid or not; attempts
// that found no reading get no row of their own, and a single N/A row is
// written only when no attempt found a reading.
func New(source Source, store scanstore.Store, cfg Config, logger logging.Logger) *Client {
	return &Client{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logging.OrNop(logger),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetValidScanData blocks up to initial_wait + retry_count*wait_time
// seconds waiting for a valid reading tagged for targetBed. It returns a
// payload on success or nil, nil on timeout without any valid reading.
// Every attempt — valid or invalid — is appended to the scan store; when
// no reading arrives at all across the whole window, one failed row is
// still appended so the scan history always reflects the attempt.
func (c *Client) GetValidScanData(ctx context.Context, targetBed, taskID, bedName string) (*ScanPayload, error) {
	if taskID == "" {
		taskID = fmt.Sprintf("scan-%d", time.Now().UTC().UnixNano())
	}

	if err := c.sleep(ctx, c.cfg.InitialWait); err != nil {
		return nil, err
	}

	hasAnyData := false
	var valid *ScanPayload

	for retryCount := 0; retryCount < c.cfg.MaxRetries; retryCount++ {
		reading, ok := c.source.LatestReading()
		if ok {
			hasAnyData = true
			isValid := reading.Status == c.cfg.ValidStatus && reading.BPM > 0 && reading.RPM > 0
			details := "無有效量測數值"
			status := scanstore.StatusInvalid
			if isValid {
				details = "量測正常"
				status = scanstore.StatusValid
			}

			if _, err := c.store.Append(ctx, scanstore.Row{
				LocationID: targetBed,
				BedName:    bedName,
				BPM:        reading.BPM,
				RPM:        reading.RPM,
				Status:     status,
				IsValid:    isValid,
				RetryCount: retryCount,
				Details:    details,
			}); err != nil {
				c.logger.Warn("biosensor: failed to append scan row: %v", err)
			}

			if isValid && valid == nil {
				valid = &ScanPayload{
					TaskID:     taskID,
					LocationID: targetBed,
					BedName:    bedName,
					BPM:        reading.BPM,
					RPM:        reading.RPM,
				}
			}
		}

		if valid != nil {
			return valid, nil
		}

		if retryCount+1 < c.cfg.MaxRetries {
			if err := c.sleep(ctx, c.cfg.WaitTime); err != nil {
				return nil, err
			}
		}
	}

	if !hasAnyData {
		if err := scanstore.AppendNA(ctx, c.store, scanstore.NAOptions{
			LocationID: targetBed,
			BedName:    bedName,
			Details:    "未收到感測器資料",
			RetryCount: c.cfg.MaxRetries,
		}); err != nil {
			c.logger.Warn("biosensor: failed to append N/A row: %v", err)
		}
	}

	return nil, nil
}
