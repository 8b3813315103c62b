package catalog

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeIndex writes idx as JSON. encoding/json sorts integer map keys, so
// equal indexes always produce identical bytes.
func EncodeIndex(w io.Writer, idx *Index) error {
	if idx.Metadata.FormatVersion == 0 {
		idx.Metadata.FormatVersion = FormatVersion
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return nil
}

// DecodeIndex reads an index written by EncodeIndex and checks that the
// version is supported and every key matches its record's ID.
func DecodeIndex(r io.Reader) (*Index, error) {
	var idx Index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	if idx.Metadata.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported index format version %d", idx.Metadata.FormatVersion)
	}
	if idx.Records == nil {
		idx.Records = make(map[int]*Record)
	}
	for id, rec := range idx.Records {
		if rec == nil || rec.ID != id {
			return nil, fmt.Errorf("index entry %d does not match its record", id)
		}
	}
	return &idx, nil
}
