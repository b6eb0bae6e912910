package seal

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// MaxServers is the largest key-server committee a share index can address.
const MaxServers = 255

func checkThreshold(threshold, servers int) error {
	if servers < 1 || servers > MaxServers {
		return fmt.Errorf("need between 1 and %d key servers, got %d", MaxServers, servers)
	}
	if threshold < 1 || threshold > servers {
		return fmt.Errorf("threshold %d out of range for %d key servers", threshold, servers)
	}
	return nil
}

// splitKey erasure-codes key into n shares of which any threshold recover it.
func splitKey(key []byte, threshold, n int) ([][]byte, error) {
	if err := checkThreshold(threshold, n); err != nil {
		return nil, err
	}
	enc, err := reedsolomon.New(threshold, n-threshold)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	shards, err := enc.Split(key)
	if err != nil {
		return nil, fmt.Errorf("split key: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode shares: %w", err)
	}
	return shards, nil
}

// combineKey rebuilds a key of keyLen bytes from shares indexed by position.
func combineKey(shares map[int][]byte, threshold, n, keyLen int) ([]byte, error) {
	if err := checkThreshold(threshold, n); err != nil {
		return nil, err
	}
	if len(shares) < threshold {
		return nil, fmt.Errorf("have %d shares, need %d", len(shares), threshold)
	}
	enc, err := reedsolomon.New(threshold, n-threshold)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	shards := make([][]byte, n)
	for i, s := range shares {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("share index %d out of range", i)
		}
		shards[i] = append([]byte(nil), s...)
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("reconstruct key: %w", err)
	}
	var buf bytes.Buffer
	if err := enc.Join(&buf, shards, keyLen); err != nil {
		return nil, fmt.Errorf("join key: %w", err)
	}
	return buf.Bytes(), nil
}
