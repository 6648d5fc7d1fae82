package core

import (
	"context"
)

// QCExpectation is a quality-control check expected for a sample, copied into
// an ExecutedQC record when the analysis is created.
type QCExpectation struct {
	QCType         string `json:"qc_type"`
	ExpectedResult string `json:"expected_result,omitempty"`
}

// ParameterTemplate seeds one ParameterAnalysis. Category and result kind
// arrive as raw strings and are parsed at this boundary.
type ParameterTemplate struct {
	Name          string `json:"name"`
	Method        string `json:"method,omitempty"`
	Unit          string `json:"unit,omitempty"`
	Microorganism string `json:"microorganism,omitempty"`
	Category      string `json:"category,omitempty"`
	ResultKind    string `json:"result_kind,omitempty"`
}

// SampleSheet is what sample reception hands over for one received sample.
type SampleSheet struct {
	SampleID   string              `json:"sample_id"`
	SampleCode string              `json:"sample_code,omitempty"`
	Parameters []ParameterTemplate `json:"parameters"`
	QC         []QCExpectation     `json:"qc,omitempty"`
}

// SampleIntake looks up sample sheets in the reception system.
type SampleIntake interface {
	Sample(ctx context.Context, sampleID string) (SampleSheet, error)
	Exists(ctx context.Context, sampleID string) (bool, error)
}
