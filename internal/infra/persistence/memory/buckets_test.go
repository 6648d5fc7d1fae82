package memory

import (
	"context"
	"testing"
	"time"

	"labcore/pkg/domain"
)

func TestSnapshotBucketRoundTrip(t *testing.T) {
	store := newTestStore()
	analysisID, _, _ := seed(t, store)
	snapshot := store.ExportState()

	var decoded Snapshot
	for _, bucket := range Buckets() {
		data, err := snapshot.EncodeBucket(bucket)
		if err != nil {
			t.Fatalf("encode %s: %v", bucket, err)
		}
		if err := decoded.DecodeBucket(bucket, data); err != nil {
			t.Fatalf("decode %s: %v", bucket, err)
		}
	}
	if err := decoded.DecodeBucket("retired", []byte(`{}`)); err != nil {
		t.Fatalf("unknown buckets must be ignored: %v", err)
	}
	if _, err := snapshot.EncodeBucket("retired"); err == nil {
		t.Fatalf("expected error encoding unknown bucket")
	}
	if err := decoded.DecodeBucket(BucketAnalyses, []byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}

	restored := newTestStore()
	restored.ImportState(decoded)
	err := restored.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ParametersOf(analysisID)) != 2 || len(view.QCOf(analysisID)) != 1 {
			t.Fatalf("bucket round trip lost owned records")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUsageKeyOpsFollowChangeOrder(t *testing.T) {
	var commits []Commit
	store := newTestStore(WithCommitHook(func(_ context.Context, c Commit) error {
		commits = append(commits, c)
		return nil
	}))
	start := time.Date(2024, 7, 4, 9, 0, 0, 0, time.UTC)
	var logID string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		l, err := tx.CreateUsageLog(domain.EquipmentUsageLog{EquipmentID: "INC-1", UsageType: domain.UsageIncubation, Start: start})
		logID = l.ID
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateUsageLog(logID, func(l *domain.EquipmentUsageLog) error {
			l.Notes = "door opened"
			return nil
		}); err != nil {
			return err
		}
		_, err := tx.UpdateUsageLog(logID, func(l *domain.EquipmentUsageLog) error {
			l.Start = start.Add(time.Hour)
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(commits) != 2 {
		t.Fatalf("expected two commits, got %d", len(commits))
	}
	created := UsageKeyOps(commits[0].Changes)
	if len(created) != 1 || created[0].Delete || created[0].LogID != logID {
		t.Fatalf("unexpected create ops %+v", created)
	}
	moved := UsageKeyOps(commits[1].Changes)
	if len(moved) != 2 || !moved[0].Delete || moved[1].Delete {
		t.Fatalf("expected notes update skipped then delete+insert, got %+v", moved)
	}
	if !moved[0].Key.Start.Equal(start) || !moved[1].Key.Start.Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected keys %+v", moved)
	}
}
