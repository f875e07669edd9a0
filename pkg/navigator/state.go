package navigator

import (
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// State is the navigator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListLoading
	StateReady
	StateErrorNoProject
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListLoading:
		return "list_loading"
	case StateReady:
		return "ready"
	case StateErrorNoProject:
		return "error_no_project"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a copy of the navigator state, safe to read without locks.
type Snapshot struct {
	State           State         `json:"state"`
	ProjectID       int           `json:"project_id,omitempty"`
	ProjectName     string        `json:"project_name,omitempty"`
	DocumentID      int           `json:"document_id,omitempty"`
	EntityID        int           `json:"entity_id,omitempty"`
	LoadedDocuments int           `json:"loaded_documents"`
	TotalDocuments  int           `json:"total_documents"`
	MoreDocuments   bool          `json:"more_documents"`
	Document        *DocumentView `json:"document,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// DocumentView is the selected document with its entities.
type DocumentView struct {
	ID             int          `json:"id"`
	Name           string       `json:"name"`
	Validated      bool         `json:"validated"`
	EntitiesLoaded bool         `json:"entities_loaded"`
	Entities       []EntityView `json:"entities"`
}

// EntityView is an entity with its enriched detail.
type EntityView struct {
	ID           int            `json:"id"`
	Value        string         `json:"value"`
	StartIndex   int            `json:"start_ind"`
	EndIndex     int            `json:"end_ind"`
	CUI          string         `json:"cui,omitempty"`
	PrettyName   string         `json:"pretty_name,omitempty"`
	Description  string         `json:"desc,omitempty"`
	TypeIDs      string         `json:"tui,omitempty"`
	SemanticType string         `json:"semantic_type,omitempty"`
	Synonyms     []string       `json:"synonyms,omitempty"`
	ICD10        []string       `json:"icd10,omitempty"`
	OPCS4        []string       `json:"opcs4,omitempty"`
	MetaTasks    map[string]any `json:"meta_tasks,omitempty"`
	Left         string         `json:"left_context,omitempty"`
	Right        string         `json:"right_context,omitempty"`

	// CodesIncomplete flags code lists cut short by a failed fetch. The
	// next selection of the entity refetches them.
	CodesIncomplete bool `json:"codes_incomplete,omitempty"`
}

func newDocumentView(d *trainer.Document) *DocumentView {
	v := &DocumentView{
		ID:             d.ID,
		Name:           d.Name,
		Validated:      d.Validated,
		EntitiesLoaded: d.EntitiesLoaded,
		Entities:       make([]EntityView, 0, len(d.Entities)),
	}
	for _, e := range d.Entities {
		v.Entities = append(v.Entities, newEntityView(d, e))
	}
	return v
}

func newEntityView(d *trainer.Document, e *trainer.Entity) EntityView {
	left, right := d.Context(e, trainer.ContextWidth)
	v := EntityView{
		ID:           e.ID,
		Value:        e.Value,
		StartIndex:   e.StartIndex,
		EndIndex:     e.EndIndex,
		CUI:          e.CUI,
		PrettyName:   e.PrettyName,
		Description:  e.Description,
		TypeIDs:      e.TypeIDs,
		SemanticType: e.SemanticType,
		Synonyms:     append([]string(nil), e.Synonyms...),
		ICD10:        codeStrings(e.ICD10),
		OPCS4:        codeStrings(e.OPCS4),
		Left:         left,
		Right:        right,
	}
	v.CodesIncomplete = e.CodesIncomplete()
	if len(e.MetaTasks) > 0 {
		v.MetaTasks = make(map[string]any, len(e.MetaTasks))
		for _, tv := range e.MetaTasks {
			if name := tv.OptionName(); name != "" {
				v.MetaTasks[tv.Task.Name] = name
			} else {
				v.MetaTasks[tv.Task.Name] = nil
			}
		}
	}
	return v
}

func codeStrings(codes []trainer.Code) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.String()
	}
	return out
}
