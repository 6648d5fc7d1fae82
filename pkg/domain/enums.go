package domain

import (
	"fmt"
	"strings"
)

// ParameterCategory classifies a parameter analysis.
type ParameterCategory string

// Parameter categories.
const (
	CategoryPhysical        ParameterCategory = "physical"
	CategoryChemical        ParameterCategory = "chemical"
	CategoryMicrobiological ParameterCategory = "microbiological"
	CategoryOther           ParameterCategory = "other"
)

// ResultKind distinguishes qualitative from quantitative results.
type ResultKind string

// Result kinds.
const (
	ResultQualitative  ResultKind = "qualitative"
	ResultQuantitative ResultKind = "quantitative"
)

// AnalysisProgress is the analyst-controlled progress of a parameter.
type AnalysisProgress string

// Analysis progress states.
const (
	ProgressUnprocessed AnalysisProgress = "unprocessed"
	ProgressInProgress  AnalysisProgress = "in_progress"
	ProgressFinalized   AnalysisProgress = "finalized"
)

// ReportStatus is the derived report eligibility of a parameter.
type ReportStatus string

// Report statuses. Reported is terminal.
const (
	ReportDraft    ReportStatus = "draft"
	ReportReady    ReportStatus = "ready"
	ReportReported ReportStatus = "reported"
)

// SignatureState is the signature workflow state of an analysis.
type SignatureState string

// Signature states.
const (
	SignatureNotSigned SignatureState = "not_signed"
	SignatureSigned    SignatureState = "signed"
	SignatureCancelled SignatureState = "cancelled"
)

// ControlStatus is the outcome of an executed QC check.
type ControlStatus string

// Control statuses.
const (
	ControlPending ControlStatus = "pending"
	ControlPassed  ControlStatus = "passed"
	ControlFailed  ControlStatus = "failed"
)

// ProcessStage is the microbiological process step a media belongs to.
type ProcessStage string

// Process stages.
const (
	StagePreEnrichment       ProcessStage = "pre_enrichment"
	StageSelectiveEnrichment ProcessStage = "selective_enrichment"
	StageQuantitative        ProcessStage = "quantitative"
	StageQualitative         ProcessStage = "qualitative"
	StageConfirmation        ProcessStage = "confirmation"
)

// MediaUsage describes what a media is used for within its stage.
type MediaUsage string

// Media usages.
const (
	UsageEnrichment           MediaUsage = "enrichment"
	UsageSelectiveDevelopment MediaUsage = "selective_development"
	UsageDiluent              MediaUsage = "diluent"
	UsageBiochemicalTests     MediaUsage = "biochemical_tests"
	UsageOtherMedia           MediaUsage = "other"
)

// DefaultUsage returns the media usage implied by a process stage.
func (s ProcessStage) DefaultUsage() MediaUsage {
	switch s {
	case StagePreEnrichment:
		return UsageEnrichment
	case StageSelectiveEnrichment, StageQualitative:
		return UsageSelectiveDevelopment
	case StageQuantitative:
		return UsageDiluent
	case StageConfirmation:
		return UsageBiochemicalTests
	default:
		return UsageOtherMedia
	}
}

// MediaSource tells whether a media batch was prepared in house.
type MediaSource string

// Media sources.
const (
	SourceInternal MediaSource = "internal"
	SourceExternal MediaSource = "external"
)

// UsageType classifies an equipment usage log.
type UsageType string

// Equipment usage types.
const (
	UsageIncubation    UsageType = "incubation"
	UsageProcessing    UsageType = "processing"
	UsageWeighing      UsageType = "weighing"
	UsageMeasurement   UsageType = "measurement"
	UsageSterilization UsageType = "sterilization"
	UsageStorage       UsageType = "storage"
	UsageOther         UsageType = "other"
)

// QualitativeOutcome is a closed set of qualitative result readings.
type QualitativeOutcome string

// Qualitative outcomes.
const (
	OutcomeDetected     QualitativeOutcome = "detected"
	OutcomeNotDetected  QualitativeOutcome = "not_detected"
	OutcomePositive     QualitativeOutcome = "positive"
	OutcomeNegative     QualitativeOutcome = "negative"
	OutcomePresence     QualitativeOutcome = "presence"
	OutcomeAbsence      QualitativeOutcome = "absence"
	OutcomeGrowth       QualitativeOutcome = "growth"
	OutcomeNoGrowth     QualitativeOutcome = "no_growth"
	OutcomeConfirmed    QualitativeOutcome = "confirmed"
	OutcomeNotConfirmed QualitativeOutcome = "not_confirmed"
)

// ReportKind selects which analyses a report may include.
type ReportKind string

// Report kinds.
const (
	ReportPreliminary ReportKind = "preliminary"
	ReportFinal       ReportKind = "final"
	ReportSigning     ReportKind = "signing"
)

// ReportCategory names the report template family requested from the renderer.
type ReportCategory string

// Report categories.
const (
	ReportBioburden       ReportCategory = "bioburden"
	ReportViableParticles ReportCategory = "viable_particles"
	ReportEndotoxin       ReportCategory = "endotoxin"
	ReportGeneralILAC     ReportCategory = "general_ilac"
	ReportGeneralNoILAC   ReportCategory = "general_no_ilac"
)

// ReportLanguage is the language a report is rendered in.
type ReportLanguage string

// Report languages.
const (
	LanguageSpanish ReportLanguage = "es"
	LanguageEnglish ReportLanguage = "en"
)

var (
	parameterCategories = []ParameterCategory{CategoryPhysical, CategoryChemical, CategoryMicrobiological, CategoryOther}
	resultKinds         = []ResultKind{ResultQualitative, ResultQuantitative}
	progressStates      = []AnalysisProgress{ProgressUnprocessed, ProgressInProgress, ProgressFinalized}
	reportStatuses      = []ReportStatus{ReportDraft, ReportReady, ReportReported}
	signatureStates     = []SignatureState{SignatureNotSigned, SignatureSigned, SignatureCancelled}
	controlStatuses     = []ControlStatus{ControlPending, ControlPassed, ControlFailed}
	processStages       = []ProcessStage{StagePreEnrichment, StageSelectiveEnrichment, StageQuantitative, StageQualitative, StageConfirmation}
	mediaUsages         = []MediaUsage{UsageEnrichment, UsageSelectiveDevelopment, UsageDiluent, UsageBiochemicalTests, UsageOtherMedia}
	mediaSources        = []MediaSource{SourceInternal, SourceExternal}
	usageTypes          = []UsageType{UsageIncubation, UsageProcessing, UsageWeighing, UsageMeasurement, UsageSterilization, UsageStorage, UsageOther}
	reportKinds         = []ReportKind{ReportPreliminary, ReportFinal, ReportSigning}
	reportCategories    = []ReportCategory{ReportBioburden, ReportViableParticles, ReportEndotoxin, ReportGeneralILAC, ReportGeneralNoILAC}
	reportLanguages     = []ReportLanguage{LanguageSpanish, LanguageEnglish}
	qualitativeOutcomes = []QualitativeOutcome{
		OutcomeDetected, OutcomeNotDetected, OutcomePositive, OutcomeNegative, OutcomePresence,
		OutcomeAbsence, OutcomeGrowth, OutcomeNoGrowth, OutcomeConfirmed, OutcomeNotConfirmed,
	}
)

func parseEnum[T ~string](field, raw string, allowed []T) (T, error) {
	value := T(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range allowed {
		if candidate == value {
			return value, nil
		}
	}
	var zero T
	return zero, &Error{
		Kind:   KindValidation,
		Op:     "parse_" + field,
		Reason: fmt.Sprintf("%s %q is not one of %v", field, raw, allowed),
		Err:    ErrInvalidValue,
	}
}

func isMember[T ~string](value T, allowed []T) bool {
	for _, candidate := range allowed {
		if candidate == value {
			return true
		}
	}
	return false
}

// ParseParameterCategory validates a category; empty input yields CategoryOther.
func ParseParameterCategory(raw string) (ParameterCategory, error) {
	if strings.TrimSpace(raw) == "" {
		return CategoryOther, nil
	}
	return parseEnum("category", raw, parameterCategories)
}

// ParseResultKind validates a result kind; empty input yields quantitative.
func ParseResultKind(raw string) (ResultKind, error) {
	if strings.TrimSpace(raw) == "" {
		return ResultQuantitative, nil
	}
	return parseEnum("result_kind", raw, resultKinds)
}

// ParseAnalysisProgress validates an analysis progress value.
func ParseAnalysisProgress(raw string) (AnalysisProgress, error) {
	return parseEnum("analysis_progress", raw, progressStates)
}

// ParseControlStatus validates a QC control status; empty input yields pending.
func ParseControlStatus(raw string) (ControlStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return ControlPending, nil
	}
	return parseEnum("control_status", raw, controlStatuses)
}

// ParseProcessStage validates a media process stage.
func ParseProcessStage(raw string) (ProcessStage, error) {
	return parseEnum("process_stage", raw, processStages)
}

// ParseMediaUsage validates a media usage; empty input yields "".
func ParseMediaUsage(raw string) (MediaUsage, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return parseEnum("media_usage", raw, mediaUsages)
}

// ParseMediaSource validates a media source; empty input yields internal.
func ParseMediaSource(raw string) (MediaSource, error) {
	if strings.TrimSpace(raw) == "" {
		return SourceInternal, nil
	}
	return parseEnum("media_source", raw, mediaSources)
}

// ParseUsageType validates an equipment usage type.
func ParseUsageType(raw string) (UsageType, error) {
	return parseEnum("usage_type", raw, usageTypes)
}

// ParseQualitativeOutcome validates a qualitative reading.
func ParseQualitativeOutcome(raw string) (QualitativeOutcome, error) {
	return parseEnum("qualitative_outcome", raw, qualitativeOutcomes)
}

// ParseReportKind validates a report kind.
func ParseReportKind(raw string) (ReportKind, error) {
	return parseEnum("report_kind", raw, reportKinds)
}

// ParseReportCategory validates a report category; empty input yields general_no_ilac.
func ParseReportCategory(raw string) (ReportCategory, error) {
	if strings.TrimSpace(raw) == "" {
		return ReportGeneralNoILAC, nil
	}
	return parseEnum("report_category", raw, reportCategories)
}

// ParseReportLanguage validates a report language; empty input yields es.
func ParseReportLanguage(raw string) (ReportLanguage, error) {
	if strings.TrimSpace(raw) == "" {
		return LanguageSpanish, nil
	}
	return parseEnum("report_language", raw, reportLanguages)
}

// Valid reports membership in the closed set.
func (c ParameterCategory) Valid() bool { return isMember(c, parameterCategories) }

// Valid reports membership in the closed set.
func (k ResultKind) Valid() bool { return isMember(k, resultKinds) }

// Valid reports membership in the closed set.
func (p AnalysisProgress) Valid() bool { return isMember(p, progressStates) }

// Valid reports membership in the closed set.
func (s ReportStatus) Valid() bool { return isMember(s, reportStatuses) }

// Valid reports membership in the closed set.
func (s SignatureState) Valid() bool { return isMember(s, signatureStates) }

// Valid reports membership in the closed set.
func (s ControlStatus) Valid() bool { return isMember(s, controlStatuses) }

// Valid reports membership in the closed set.
func (s ProcessStage) Valid() bool { return isMember(s, processStages) }

// Valid reports membership in the closed set.
func (u MediaUsage) Valid() bool { return isMember(u, mediaUsages) }

// Valid reports membership in the closed set.
func (s MediaSource) Valid() bool { return isMember(s, mediaSources) }

// Valid reports membership in the closed set.
func (u UsageType) Valid() bool { return isMember(u, usageTypes) }

// UsageTypes lists every equipment usage type.
func UsageTypes() []UsageType { return append([]UsageType(nil), usageTypes...) }
