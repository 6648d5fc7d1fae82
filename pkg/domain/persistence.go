package domain

import (
	"context"
	"time"
)

// RuleView provides read-only access to domain records for rule evaluation
// and queries. Lists are returned as clones in a stable order.
type RuleView interface {
	ListAnalyses() []Analysis
	FindAnalysis(id string) (Analysis, bool)
	// RevisionsOf returns analyses whose original_analysis_id equals id.
	RevisionsOf(id string) []Analysis
	ListParameters() []ParameterAnalysis
	FindParameter(id string) (ParameterAnalysis, bool)
	// ParametersOf returns the parameters owned by an analysis ordered by sequence.
	ParametersOf(analysisID string) []ParameterAnalysis
	ListMedia() []AnalysisMedia
	FindMedia(id string) (AnalysisMedia, bool)
	MediaOf(parameterID string) []AnalysisMedia
	QCOf(analysisID string) []ExecutedQC
	ListUsageLogs() []EquipmentUsageLog
	FindUsageLog(id string) (EquipmentUsageLog, bool)
	FindUsageLogByKey(key UsageKey) (EquipmentUsageLog, bool)
	// UsageLogsFor returns an equipment's ledger ordered by start, newest first.
	UsageLogsFor(equipmentID string) []EquipmentUsageLog
}

// TransactionView is the read-only snapshot handed to View callbacks.
type TransactionView interface {
	RuleView
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Reads observe the transaction's own writes.
type Transaction interface {
	TransactionView
	// Now is the instant stamped on every record written by the transaction.
	Now() time.Time
	CreateAnalysis(Analysis) (Analysis, error)
	UpdateAnalysis(id string, mutator func(*Analysis) error) (Analysis, error)
	// DeleteAnalysis removes the analysis and cascades to its parameters,
	// their media and its executed QC. Weak references are left untouched.
	DeleteAnalysis(id string) error
	CreateParameter(ParameterAnalysis) (ParameterAnalysis, error)
	UpdateParameter(id string, mutator func(*ParameterAnalysis) error) (ParameterAnalysis, error)
	DeleteParameter(id string) error
	CreateMedia(AnalysisMedia) (AnalysisMedia, error)
	UpdateMedia(id string, mutator func(*AnalysisMedia) error) (AnalysisMedia, error)
	DeleteMedia(id string) error
	CreateExecutedQC(ExecutedQC) (ExecutedQC, error)
	UpdateExecutedQC(id string, mutator func(*ExecutedQC) error) (ExecutedQC, error)
	CreateUsageLog(EquipmentUsageLog) (EquipmentUsageLog, error)
	UpdateUsageLog(id string, mutator func(*EquipmentUsageLog) error) (EquipmentUsageLog, error)
	DeleteUsageLog(id string) error
}

// PersistentStore is the abstraction over durable backends used by the service.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
