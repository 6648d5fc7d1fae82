package memory

import (
	"encoding/json"
	"fmt"

	"labcore/pkg/domain"
)

// Snapshot bucket names shared by the durable stores.
const (
	BucketAnalyses   = "analyses"
	BucketParameters = "parameters"
	BucketMedia      = "media"
	BucketExecutedQC = "executed_qc"
	BucketUsageLogs  = "usage_logs"
)

var buckets = []string{BucketAnalyses, BucketParameters, BucketMedia, BucketExecutedQC, BucketUsageLogs}

// Buckets lists the snapshot buckets in persistence order.
func Buckets() []string { return append([]string(nil), buckets...) }

// EncodeBucket marshals one bucket of the snapshot.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch bucket {
	case BucketAnalyses:
		data, err = json.Marshal(s.Analyses)
	case BucketParameters:
		data, err = json.Marshal(s.Parameters)
	case BucketMedia:
		data, err = json.Marshal(s.Media)
	case BucketExecutedQC:
		data, err = json.Marshal(s.ExecutedQC)
	case BucketUsageLogs:
		data, err = json.Marshal(s.UsageLogs)
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", bucket, err)
	}
	return data, nil
}

// DecodeBucket unmarshals payload into the named bucket. Unknown buckets are
// ignored so older databases with retired buckets still load.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketAnalyses:
		target = &s.Analyses
	case BucketParameters:
		target = &s.Parameters
	case BucketMedia:
		target = &s.Media
	case BucketExecutedQC:
		target = &s.ExecutedQC
	case BucketUsageLogs:
		target = &s.UsageLogs
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

// UsageKeyOp is one insert or delete against a relational usage key table.
type UsageKeyOp struct {
	Delete bool
	Key    domain.UsageKey
	LogID  string
}

// UsageKeyOps derives, in change order, the key table operations implied by
// a commit's usage log changes.
func UsageKeyOps(changes []Change) []UsageKeyOp {
	var ops []UsageKeyOp
	for _, change := range changes {
		if change.Entity != domain.EntityUsageLog {
			continue
		}
		before, hadBefore := domain.DecodePayload[EquipmentUsageLog](change.Before)
		after, hasAfter := domain.DecodePayload[EquipmentUsageLog](change.After)
		if hadBefore && hasAfter && usageIndexKey(before.Key()) == usageIndexKey(after.Key()) {
			continue
		}
		if hadBefore {
			ops = append(ops, UsageKeyOp{Delete: true, Key: before.Key(), LogID: before.ID})
		}
		if hasAfter {
			ops = append(ops, UsageKeyOp{Key: after.Key(), LogID: after.ID})
		}
	}
	return ops
}
