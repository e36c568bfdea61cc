package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cbergoon/merkletree"
	"github.com/multiformats/go-multihash"
)

// Segment summarizes one contiguous run of exported records.
type Segment struct {
	Index   int    `json:"index"`
	Records int    `json:"records"`
	CID     string `json:"cid"`
}

// Manifest lets a trace consumer verify an export was neither truncated nor
// altered: every segment is identified by a multihash CID and the manifest
// carries the Merkle root over the segment CIDs.
type Manifest struct {
	TotalRecords uint64    `json:"total_records"`
	Segments     []Segment `json:"segments"`
	Root         string    `json:"root"`
}

// segmentContent adapts a segment CID to the merkletree content interface.
type segmentContent struct {
	cid string
}

func (c segmentContent) CalculateHash() ([]byte, error) {
	h := sha256.New()
	if _, err := h.Write([]byte(c.cid)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (c segmentContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(segmentContent)
	if !ok {
		return false, fmt.Errorf("type mismatch")
	}
	return c.cid == o.cid, nil
}

// segmentCID identifies a segment's raw record bytes.
func segmentCID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("compute segment multihash: %w", err)
	}
	return mh.B58String(), nil
}

// buildManifest computes the Merkle root over the segment CIDs.
func buildManifest(totalRecords uint64, segments []Segment) (Manifest, error) {
	m := Manifest{TotalRecords: totalRecords, Segments: segments}
	if len(segments) == 0 {
		return m, nil
	}

	contents := make([]merkletree.Content, 0, len(segments))
	for _, seg := range segments {
		contents = append(contents, segmentContent{cid: seg.CID})
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return Manifest{}, fmt.Errorf("build manifest tree: %w", err)
	}

	m.Root = hex.EncodeToString(tree.MerkleRoot())
	return m, nil
}

// Verify recomputes the Merkle root from the manifest's segment CIDs and
// checks it against the recorded root.
func (m Manifest) Verify() error {
	if len(m.Segments) == 0 {
		if m.Root != "" {
			return fmt.Errorf("manifest has a root but no segments")
		}
		return nil
	}

	rebuilt, err := buildManifest(m.TotalRecords, m.Segments)
	if err != nil {
		return err
	}
	if rebuilt.Root != m.Root {
		return fmt.Errorf("manifest root mismatch: recorded %s, computed %s", m.Root, rebuilt.Root)
	}
	return nil
}
