package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const formatVersion = 1

var (
	bucketMeta    = []byte("meta")
	bucketEntries = []byte("entries")
	bucketVectors = []byte("vectors")

	keyMeta = []byte("index")
)

const (
	stateBuilding = "building"
	stateReady    = "ready"
)

// meta is the JSON document stored under meta/index.
type meta struct {
	Version   int       `json:"version"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	Count     int       `json:"count"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func encodeKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// encodeVector writes vec as little-endian float32 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("vector has %d bytes, want %d", len(buf), dim*4)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
