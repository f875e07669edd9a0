// Package trainer defines the annotation data model exchanged with the
// trainer REST backend and the endpoint paths used to reach it.
package trainer

import (
	"sort"
	"strings"
)

// Project is an annotation project as returned by the projects endpoint.
type Project struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Dataset            int    `json:"dataset"`
	ValidatedDocuments []int  `json:"validated_documents"`
	Tasks              []int  `json:"tasks"`
}

// IsValidated reports whether docID is in the project's validated set.
func (p *Project) IsValidated(docID int) bool {
	for _, id := range p.ValidatedDocuments {
		if id == docID {
			return true
		}
	}
	return false
}

// Document is a single text of a dataset.
type Document struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Dataset   int       `json:"dataset"`
	Text      string    `json:"text"`
	Validated bool      `json:"validated"`
	Entities  []*Entity `json:"-"`

	// EntitiesLoaded is set once the annotated entities were fetched, even
	// when the document has none.
	EntitiesLoaded bool `json:"-"`
}

// ContextWidth is the number of characters shown around an entity in
// document summaries.
const ContextWidth = 20

// Context returns up to width characters of text on each side of e.
func (d *Document) Context(e *Entity, width int) (left, right string) {
	text := []rune(d.Text)
	start := min(max(e.StartIndex, 0), len(text))
	end := min(max(e.EndIndex, start), len(text))
	left = string(text[max(0, start-width):start])
	right = string(text[end:min(len(text), end+width)])
	return left, right
}

// Entity returns the loaded entity with id, or nil.
func (d *Document) Entity(id int) *Entity {
	for _, e := range d.Entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Entity is an annotated span in a document. Detail fields are empty until
// the enrichment pipeline fills them.
type Entity struct {
	ID          int    `json:"id"`
	EntityRefID int    `json:"entity"`
	Value       string `json:"value"`
	StartIndex  int    `json:"start_ind"`
	EndIndex    int    `json:"end_ind"`
	Validated   bool   `json:"validated"`
	Correct     bool   `json:"correct"`
	Deleted     bool   `json:"deleted"`

	CUI          string   `json:"-"`
	PrettyName   string   `json:"-"`
	Description  string   `json:"-"`
	TypeIDs      string   `json:"-"`
	SemanticType string   `json:"-"`
	Synonyms     []string `json:"-"`
	ICD10        []Code   `json:"-"`
	OPCS4        []Code   `json:"-"`

	// ICD10Loaded and OPCS4Loaded are set once the code list was drained
	// without error.
	ICD10Loaded bool `json:"-"`
	OPCS4Loaded bool `json:"-"`

	MetaTasks []TaskValue `json:"-"`
}

// HasDetail reports whether concept detail and both complete code lists
// have been cached on the entity.
func (e *Entity) HasDetail() bool {
	return e.PrettyName != "" && e.ICD10Loaded && e.OPCS4Loaded
}

// CodesIncomplete reports a concept whose code lists could not be drained.
func (e *Entity) CodesIncomplete() bool {
	return e.PrettyName != "" && !(e.ICD10Loaded && e.OPCS4Loaded)
}

// EntityRef is the payload of the entity-label lookup.
type EntityRef struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Concept is a clinical concept from the concept database.
type Concept struct {
	ID           int    `json:"id"`
	CUI          string `json:"cui"`
	PrettyName   string `json:"pretty_name"`
	Description  string `json:"desc"`
	TypeIDs      string `json:"tui"`
	SemanticType string `json:"semantic_type"`
	Synonyms     string `json:"synonyms"`
	ICD10        []int  `json:"icd10"`
	OPCS4        []int  `json:"opcs4"`
}

// SynonymList splits the comma separated synonyms field.
func (c *Concept) SynonymList() []string {
	if strings.TrimSpace(c.Synonyms) == "" {
		return nil
	}
	parts := strings.Split(c.Synonyms, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Code is an ICD-10 or OPCS-4 classification code.
type Code struct {
	ID          int    `json:"id"`
	Code        string `json:"code"`
	Description string `json:"desc"`
}

// String renders the code the way the annotation views list it.
func (c Code) String() string {
	return c.Code + " | " + c.Description
}

// SortCodes orders codes ascending by code string, in place.
func SortCodes(codes []Code) {
	sort.SliceStable(codes, func(i, j int) bool {
		return codes[i].Code < codes[j].Code
	})
}

// MetaTask is a meta-annotation task definition with its resolved options.
type MetaTask struct {
	ID      int             `json:"id"`
	Name    string          `json:"name"`
	Default int             `json:"default,omitempty"`
	Values  []int           `json:"values"`
	Options []MetaTaskValue `json:"-"`
}

// HasDefault reports whether the task declares a default value.
func (t *MetaTask) HasDefault() bool {
	return t.Default != 0
}

// MetaTaskValue is one selectable option of a MetaTask.
type MetaTaskValue struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// MetaAnnotation binds a chosen task value to an entity.
type MetaAnnotation struct {
	ID              int  `json:"id,omitempty"`
	AnnotatedEntity int  `json:"annotated_entity"`
	MetaTask        int  `json:"meta_task"`
	MetaTaskValue   int  `json:"meta_task_value"`
	Validated       bool `json:"validated"`
}

// TaskValue is the current value of one task for one entity. Value and
// AnnotationID are zero when nothing was chosen.
type TaskValue struct {
	Task         MetaTask
	Value        int
	AnnotationID int
}

// OptionName returns the name of the chosen option, if any.
func (tv TaskValue) OptionName() string {
	for _, o := range tv.Task.Options {
		if o.ID == tv.Value {
			return o.Name
		}
	}
	return ""
}
