package intake

import (
	"context"
	"strings"
	"sync"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

// Directory is an in-memory sample reception used by tests and local runs.
type Directory struct {
	mu     sync.RWMutex
	sheets map[string]core.SampleSheet
}

// NewDirectory seeds a directory with sheets, keyed by SampleID.
func NewDirectory(sheets ...core.SampleSheet) *Directory {
	d := &Directory{sheets: make(map[string]core.SampleSheet, len(sheets))}
	for _, s := range sheets {
		d.Put(s)
	}
	return d
}

// Put registers or replaces a sheet.
func (d *Directory) Put(sheet core.SampleSheet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sheets[strings.TrimSpace(sheet.SampleID)] = cloneSheet(sheet)
}

// Remove forgets sampleID, as reception does when a sample is voided.
func (d *Directory) Remove(sampleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sheets, strings.TrimSpace(sampleID))
}

// Sample implements core.SampleIntake.
func (d *Directory) Sample(_ context.Context, sampleID string) (core.SampleSheet, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sheet, ok := d.sheets[strings.TrimSpace(sampleID)]
	if !ok {
		return core.SampleSheet{}, domain.NotFound("intake_sample", domain.EntityAnalysis, sampleID)
	}
	return cloneSheet(sheet), nil
}

// Exists implements core.SampleIntake.
func (d *Directory) Exists(_ context.Context, sampleID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sheets[strings.TrimSpace(sampleID)]
	return ok, nil
}

func cloneSheet(s core.SampleSheet) core.SampleSheet {
	s.Parameters = append([]core.ParameterTemplate(nil), s.Parameters...)
	s.QC = append([]core.QCExpectation(nil), s.QC...)
	return s
}
