// Package journal persists delivered envelopes and periodic stats snapshots
// to compressed on-disk bundles for offline inspection. Deliveries stream as
// snappy-framed JSONL; stats snapshots are length-prefixed binary records in
// a zstd stream.
package journal

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"fleettrace/hub/internal/logging"
)

const (
	deliveriesName = "deliveries.jsonl.sz"
	statsName      = "stats.bin.zst"
	manifestName   = "manifest.json"
)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version        int    `json:"version"`
	CreatedAt      string `json:"created_at"`
	DeliveriesPath string `json:"deliveries_path"`
	StatsPath      string `json:"stats_path"`
}

// DeliveryRecord is one journalled envelope delivery.
type DeliveryRecord struct {
	CapturedAt string `json:"captured_at"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	FrameB64   string `json:"frame_b64"`
}

// Writer streams journal artefacts to a timestamped bundle directory.
type Writer struct {
	mu             sync.Mutex
	dir            string
	now            func() time.Time
	log            *logging.Logger
	deliveryFile   *os.File
	deliveryStream *snappy.Writer
	statsFile      *os.File
	statsStream    *zstd.Encoder
	closed         bool
}

// NewWriter prepares the bundle directory under root and opens the
// compressed sinks.
func NewWriter(root string, logger *logging.Logger, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("journal root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.L()
	}

	created := clock().UTC()
	dir := filepath.Join(root, "hub-"+created.Format("20060102T150405Z"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	deliveryFile, err := os.Create(filepath.Join(dir, deliveriesName))
	if err != nil {
		return nil, Manifest{}, err
	}
	deliveryStream := snappy.NewBufferedWriter(deliveryFile)

	statsFile, err := os.Create(filepath.Join(dir, statsName))
	if err != nil {
		deliveryStream.Close()
		deliveryFile.Close()
		return nil, Manifest{}, err
	}
	statsStream, err := zstd.NewWriter(statsFile)
	if err != nil {
		deliveryStream.Close()
		deliveryFile.Close()
		statsFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:        1,
		CreatedAt:      created.Format(time.RFC3339Nano),
		DeliveriesPath: deliveriesName,
		StatsPath:      statsName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, manifestName), data, 0o644)
	}
	if err != nil {
		statsStream.Close()
		statsFile.Close()
		deliveryStream.Close()
		deliveryFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:            dir,
		now:            clock,
		log:            logger,
		deliveryFile:   deliveryFile,
		deliveryStream: deliveryStream,
		statsFile:      statsFile,
		statsStream:    statsStream,
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// RecordDelivery appends one delivered envelope to the journal. Failures
// are logged, never surfaced to the broadcast path.
func (w *Writer) RecordDelivery(eventType, sessionID string, frame []byte) {
	if w == nil {
		return
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	//1.- Base64 the raw frame so the JSONL stream stays line-safe.
	record := DeliveryRecord{
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		SessionID:  sessionID,
		FrameB64:   base64.StdEncoding.EncodeToString(frame),
	}
	line, err := json.Marshal(record)
	if err == nil {
		_, err = w.deliveryStream.Write(append(line, '\n'))
	}
	if err == nil {
		err = w.deliveryStream.Flush()
	}
	if err != nil {
		w.log.Error("journal delivery write failed", logging.Error(err))
	}
}

// AppendStats writes one length-prefixed stats snapshot to the zstd stream.
func (w *Writer) AppendStats(payload []byte) error {
	if w == nil {
		return fmt.Errorf("journal writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("journal writer closed")
	}

	//1.- Prefix each snapshot with its capture time and byte length so
	// readers can step the stream without parsing payloads.
	header := make([]byte, 8+4)
	binary.LittleEndian.PutUint64(header[0:8], uint64(captured.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := w.statsStream.Write(header); err != nil {
		return err
	}
	if _, err := w.statsStream.Write(payload); err != nil {
		return err
	}
	return w.statsStream.Flush()
}

// Close flushes both streams and releases file handles. Safe to call more
// than once.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if err := w.deliveryStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.deliveryFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.statsStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.statsFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
