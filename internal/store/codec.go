package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/validation"
)

func encodeRecords(records []models.SessionRecord) ([]byte, error) {
	if records == nil {
		records = []models.SessionRecord{}
	}
	for i := range records {
		if records[i].Participants == nil {
			records[i].Participants = []models.Participant{}
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshaling records: %w", err)
	}
	return data, nil
}

// decodeRecords validates and decodes a stored collection. An empty
// document decodes to an empty collection.
func decodeRecords(data []byte) ([]models.SessionRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if errs := validation.ValidateRecordsBytes(data); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCorruptStore, strings.Join(errs, "; "))
	}
	var records []models.SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return records, nil
}
