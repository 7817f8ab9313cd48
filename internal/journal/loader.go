package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// StatsSnapshot is one decoded stats record from the journal.
type StatsSnapshot struct {
	CapturedAt time.Time
	Payload    []byte
}

// LoadManifest reads and validates the bundle manifest.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, err
	}
	if manifest.Version != 1 {
		return Manifest{}, fmt.Errorf("unsupported journal version %d", manifest.Version)
	}
	return manifest, nil
}

// ReadDeliveries decodes every journalled delivery in the bundle.
func ReadDeliveries(dir string) ([]DeliveryRecord, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, manifest.DeliveriesPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []DeliveryRecord
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record DeliveryRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadStats decodes every stats snapshot in the bundle.
func ReadStats(dir string) ([]StatsSnapshot, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, manifest.StatsPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var snapshots []StatsSnapshot
	header := make([]byte, 8+4)
	for {
		if _, err := io.ReadFull(decoder, header); err != nil {
			if err == io.EOF {
				return snapshots, nil
			}
			return nil, err
		}
		captured := time.Unix(0, int64(binary.LittleEndian.Uint64(header[0:8]))).UTC()
		payload := make([]byte, binary.LittleEndian.Uint32(header[8:12]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, StatsSnapshot{CapturedAt: captured, Payload: payload})
	}
}
