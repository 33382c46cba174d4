// Package domain defines the core entities of the equipment knowledge graph
// engine and the validation gate applied at ingestion entry points.
package domain

import "time"

// Equipment is a canonical equipment entity, the single deduplicated identity
// for one physical device across all source documents of a project.
type Equipment struct {
	ID           string    `json:"id"`
	Project      string    `json:"project"`
	Tag          string    `json:"tag"`
	Type         string    `json:"type"` // AHU, VFD, MCC, PLC, PUMP, ...
	Description  string    `json:"description,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	ModelNumber  string    `json:"model_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Alias is a raw string observed in source material that refers to a
// canonical equipment entity.
type Alias struct {
	EquipmentID string    `json:"equipment_id"`
	Alias       string    `json:"alias"`
	SourceDoc   string    `json:"source_doc,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// EdgeType identifies the directed relationship an edge expresses.
type EdgeType string

const (
	EdgeFeeds        EdgeType = "feeds"
	EdgeFedBy        EdgeType = "fed_by"
	EdgeControls     EdgeType = "controls"
	EdgeControlledBy EdgeType = "controlled_by"
	EdgeDrives       EdgeType = "drives"
	EdgeDrivenBy     EdgeType = "driven_by"
	EdgeInterlocks   EdgeType = "interlocks"
	EdgeMonitors     EdgeType = "monitors"
	EdgeMonitoredBy  EdgeType = "monitored_by"
	EdgeProtects     EdgeType = "protects"
	EdgeProtectedBy  EdgeType = "protected_by"
	EdgeConnectsTo   EdgeType = "connects_to"
)

// ValidEdgeTypes is the set of recognised edge types.
var ValidEdgeTypes = map[EdgeType]bool{
	EdgeFeeds: true, EdgeFedBy: true,
	EdgeControls: true, EdgeControlledBy: true,
	EdgeDrives: true, EdgeDrivenBy: true,
	EdgeInterlocks: true,
	EdgeMonitors:   true, EdgeMonitoredBy: true,
	EdgeProtects: true, EdgeProtectedBy: true,
	EdgeConnectsTo: true,
}

// InverseEdgeType maps each directional edge type to its logical inverse.
// Both directions are stored as independent edges; this mapping is used by
// traversal, never to synthesise missing edges.
var InverseEdgeType = map[EdgeType]EdgeType{
	EdgeFeeds:        EdgeFedBy,
	EdgeFedBy:        EdgeFeeds,
	EdgeControls:     EdgeControlledBy,
	EdgeControlledBy: EdgeControls,
	EdgeDrives:       EdgeDrivenBy,
	EdgeDrivenBy:     EdgeDrives,
	EdgeMonitors:     EdgeMonitoredBy,
	EdgeMonitoredBy:  EdgeMonitors,
	EdgeProtects:     EdgeProtectedBy,
	EdgeProtectedBy:  EdgeProtects,
	EdgeInterlocks:   EdgeInterlocks,
	EdgeConnectsTo:   EdgeConnectsTo,
}

// EdgeCategory groups edges by the physical system they belong to.
type EdgeCategory string

const (
	CategoryElectrical EdgeCategory = "ELECTRICAL"
	CategoryControl    EdgeCategory = "CONTROL"
	CategoryMechanical EdgeCategory = "MECHANICAL"
	CategoryInterlock  EdgeCategory = "INTERLOCK"
)

// ValidEdgeCategories is the set of recognised edge categories.
var ValidEdgeCategories = map[EdgeCategory]bool{
	CategoryElectrical: true, CategoryControl: true,
	CategoryMechanical: true, CategoryInterlock: true,
}

// EdgeTypeCategory assigns each edge type its default category. Callers may
// override it, e.g. connects_to edges carrying duct or pipe attributes.
var EdgeTypeCategory = map[EdgeType]EdgeCategory{
	EdgeFeeds: CategoryElectrical, EdgeFedBy: CategoryElectrical,
	EdgeProtects: CategoryElectrical, EdgeProtectedBy: CategoryElectrical,
	EdgeControls: CategoryControl, EdgeControlledBy: CategoryControl,
	EdgeMonitors: CategoryControl, EdgeMonitoredBy: CategoryControl,
	EdgeDrives: CategoryMechanical, EdgeDrivenBy: CategoryMechanical,
	EdgeConnectsTo: CategoryMechanical,
	EdgeInterlocks: CategoryInterlock,
}

// EdgeAttributes carries the electrical/control/mechanical detail extracted
// alongside a relationship. All fields are optional.
type EdgeAttributes struct {
	Voltage    string `json:"voltage,omitempty"`
	Breaker    string `json:"breaker,omitempty"`
	WireSize   string `json:"wire_size,omitempty"`
	Load       string `json:"load,omitempty"`
	SignalType string `json:"signal_type,omitempty"`
	Medium     string `json:"medium,omitempty"`
	PipeSize   string `json:"pipe_size,omitempty"`
}

// Edge is a directed, typed, confidence-scored relationship between two
// canonical equipment entities. Edges are keyed by (source, target, type).
type Edge struct {
	ID         string         `json:"id"`
	Project    string         `json:"project"`
	Source     string         `json:"source"` // equipment id
	Target     string         `json:"target"` // equipment id
	Type       EdgeType       `json:"type"`
	Category   EdgeCategory   `json:"category"`
	Confidence float64        `json:"confidence"`
	Attrs      EdgeAttributes `json:"attrs"`
	DocumentID string         `json:"document_id,omitempty"`
	PageNumber int            `json:"page_number,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// FactType identifies the structured payload variant of a fact.
type FactType string

const (
	FactIOPoint       FactType = "IO_POINT"
	FactSpecification FactType = "SPECIFICATION"
	FactAlarm         FactType = "ALARM"
	FactScheduleEntry FactType = "SCHEDULE_ENTRY"
	FactSequence      FactType = "SEQUENCE"
)

// ValidFactTypes is the set of recognised fact types.
var ValidFactTypes = map[FactType]bool{
	FactIOPoint: true, FactSpecification: true, FactAlarm: true,
	FactScheduleEntry: true, FactSequence: true,
}

// Fact is one structured data point attributed to an equipment entity by a
// source document. Facts are append-only; superseded facts are retained and
// resolved at profile-build time.
type Fact struct {
	ID             string         `json:"id"`
	Project        string         `json:"project"`
	EquipmentID    string         `json:"equipment_id"`
	Type           FactType       `json:"type"`
	Payload        map[string]any `json:"payload"`
	SourceLocation string         `json:"source_location,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Profile is the materialized, versioned aggregate of all facts for one
// equipment entity. Document is deterministic JSON; rebuilding with an
// unchanged fact set reproduces identical bytes.
type Profile struct {
	EquipmentID string    `json:"equipment_id"`
	Version     int       `json:"version"`
	Document    []byte    `json:"document"`
	LastUpdated time.Time `json:"last_updated"`
}

// TagMention is a raw equipment mention emitted by a document processor.
type TagMention struct {
	RawTag        string `json:"raw_tag" validate:"required"`
	DocumentID    string `json:"document_id" validate:"required"`
	PageNumber    int    `json:"page_number" validate:"gte=0"`
	ContextText   string `json:"context_text,omitempty"`
	SuggestedType string `json:"suggested_type,omitempty"`
}

// RelationshipCandidate is a proposed edge between two raw tags.
type RelationshipCandidate struct {
	SourceTagRaw string         `json:"source_tag_raw" validate:"required"`
	TargetTagRaw string         `json:"target_tag_raw" validate:"required"`
	Type         EdgeType       `json:"type" validate:"required"`
	Category     EdgeCategory   `json:"category" validate:"required"`
	Confidence   float64        `json:"confidence" validate:"gte=0,lte=1"`
	Attrs        EdgeAttributes `json:"attrs"`
	DocumentID   string         `json:"document_id,omitempty"`
	PageNumber   int            `json:"page_number,omitempty"`
}

// FactCandidate is a proposed fact attributed to a raw tag.
type FactCandidate struct {
	TagRaw         string         `json:"tag_raw" validate:"required"`
	DataType       FactType       `json:"data_type" validate:"required"`
	Payload        map[string]any `json:"payload" validate:"required"`
	SourceLocation string         `json:"source_location,omitempty"`
}
