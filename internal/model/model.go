// Package model holds the domain types shared across the ingestion backbone.
package model

import "time"

// RiskClass governs how aggressively a source may be fetched.
type RiskClass string

const (
	RiskGreen RiskClass = "green" // plain HTTP fetcher
	RiskAmber RiskClass = "amber" // JS-capable browser fetcher, longer delays
	RiskRed   RiskClass = "red"   // manual import only, never auto-polled
)

// FetchMethod selects the downloader strategy for a source.
type FetchMethod string

const (
	FetchHTTP    FetchMethod = "http"
	FetchBrowser FetchMethod = "browser"
)

// SourceType determines how the change detector extracts candidate documents.
type SourceType string

const (
	SourcePDFPortal  SourceType = "pdf_portal"
	SourceJSONEmbed  SourceType = "json_embed"
	SourceHTMLTable  SourceType = "html_table"
)

// OrderType distinguishes an order from a directive.
type OrderType string

const (
	OrderTypeOrder     OrderType = "order"
	OrderTypeDirective OrderType = "directive"
)

// Source is the static/semi-static catalog entry for a government portal.
type Source struct {
	Code        string
	Name        string
	Region      string
	IssuingBody string
	OrderType   OrderType
	RiskClass   RiskClass
	Active      bool
	FetchMethod FetchMethod

	BaseURL      string
	DelayMin     time.Duration
	DelayMax     time.Duration
	WaitSelector string

	ListingURLs       []string
	LinkRegex         string
	OrderNumberRegex  string
	OrderDateRegex    string
	TitleRegex        string
	PaginationTmpl    string
	MaxPages          int
	SourceType        SourceType
	JSVar             string

	// Mutable runtime fields, persisted by the store.
	LastContentHash string
	LastETag        string
	LastCheckedAt   time.Time
}

// HasListingURL reports the invariant that every active source must carry
// at least one listing URL.
func (s *Source) HasListingURL() bool {
	return len(s.ListingURLs) > 0
}

// Discoverable reports the invariant that an active pdf_portal source has a
// non-empty link regex, and a json_embed source names its embedded variable.
func (s *Source) Discoverable() bool {
	if !s.HasListingURL() {
		return false
	}
	if s.SourceType == SourceJSONEmbed {
		return s.JSVar != ""
	}
	return s.LinkRegex != ""
}

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	StatusNew       OrderStatus = "new"
	StatusDownloaded OrderStatus = "downloaded"
	StatusExtracted OrderStatus = "extracted"
	StatusApproved  OrderStatus = "approved"
	StatusRejected  OrderStatus = "rejected"
	StatusFailed    OrderStatus = "failed"
)

// Order is an official document awarding one or more sporting ranks.
type Order struct {
	ID            string
	SourceCode    string
	OrderNumber   string
	OrderDate     time.Time
	OrderType     OrderType
	Title         string
	SourceURL     string
	FileURL       string
	FileHash      string
	Status        OrderStatus
	PageCount     int
	OCRMethod     string
	OCRConfidence float64
	ErrorMessage  string
	CreatedAt     time.Time
	ExtractedAt   *time.Time
}

// AssignmentKind is the closed set of award categories.
type AssignmentKind string

const (
	KindSportRank         AssignmentKind = "sport_rank"
	KindJudgeCategory     AssignmentKind = "judge_category"
	KindSpecialistCategory AssignmentKind = "specialist_category"
	KindCoachCategory     AssignmentKind = "coach_category"
	KindHonoraryTitle     AssignmentKind = "honorary_title"
)

// ActionType is the closed set of actions an order may take on an assignment.
type ActionType string

const (
	ActionAssignment ActionType = "assignment"
	ActionConfirmation ActionType = "confirmation"
	ActionRefusal    ActionType = "refusal"
	ActionRevocation ActionType = "revocation"
	ActionRestoration ActionType = "restoration"
)

// Assignment is a single per-person award record extracted from an order.
type Assignment struct {
	ID                   string
	OrderID              string
	FIO                  string
	BirthDate            *time.Time
	BirthDateRaw         string
	IASID                string
	SubmissionNumber     string
	AssignmentKind       AssignmentKind
	RankCategory         string
	RankCategoryOriginal string
	Action               ActionType
	Sport                string
	SportOriginal        string
	SportID              string
	Confidence           float64
	ExtractorTag         string
	Extras               map[string]any
	CreatedAt            time.Time
}

// Valid reports the invariants from the data model: non-empty fio and
// rank_category, and a non-empty sport name whenever sport_id is set.
func (a *Assignment) Valid() bool {
	if a.FIO == "" || a.RankCategory == "" {
		return false
	}
	if a.SportID != "" && a.Sport == "" {
		return false
	}
	return true
}

// LogLevel is the severity of a ProcessingLog entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Stage names the pipeline stage that produced a ProcessingLog entry.
type Stage string

const (
	StageChangeDetection Stage = "change_detection"
	StageDownload        Stage = "download"
	StageOCR             Stage = "ocr"
	StageExtract         Stage = "extract"
	StageNormalize       Stage = "normalize"
	StageSave            Stage = "save"
)

// ProcessingLog is an append-only event in an order's processing trail.
type ProcessingLog struct {
	ID        string
	OrderID   string
	SourceCode string
	Level     LogLevel
	Stage     Stage
	Message   string
	Details   map[string]any
	CreatedAt time.Time
}

// MaxLogMessageLen is the truncation length for ProcessingLog.Message.
const MaxLogMessageLen = 2000

// Sport is a canonical entry in the national sports registry (VRVS).
type Sport struct {
	ID          string
	CodeBase    int
	CodeFull    string
	Section     int // 1..4
	CurrentName string
}

// SportName records a canonical or alias name for a sport.
type SportName struct {
	SportID   string
	Name      string
	Primary   bool
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// SportDiscipline is a named child discipline under a sport.
type SportDiscipline struct {
	SportID string
	Name    string
}

// SportRegistryVersion records a single import of the VRVS spreadsheet.
type SportRegistryVersion struct {
	ID          string
	Label       string
	FileHash    string
	SportCount  int
	AliasCount  int
	ImportedAt  time.Time
}

// DiscoveredDocument is the transient element the change detector emits
// before it becomes a stored Order.
type DiscoveredDocument struct {
	URL         string
	FileURL     string
	Title       string
	OrderNumber string
	OrderDate   time.Time
	OrderType   OrderType
}

// Key returns the dedup key: file URL when present, else the page URL.
// Only this one URL is compared against the stored orders' URLs; the page
// URL of a document that has a file URL is not compared.
func (d *DiscoveredDocument) Key() string {
	if d.FileURL != "" {
		return d.FileURL
	}
	return d.URL
}
