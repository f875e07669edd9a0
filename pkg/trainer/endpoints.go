package trainer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// REST collection paths. Prefixes are owned by the backend.
const (
	PathProjects          = "/api/project-annotate-entities/"
	PathDocuments         = "/api/documents/"
	PathAnnotatedEntities = "/api/annotated-entities/"
	PathEntities          = "/api/entities/"
	PathConcepts          = "/api/concepts/"
	PathICDCodes          = "/api/icd-codes/"
	PathOPCSCodes         = "/api/opcs-codes/"
	PathMetaTasks         = "/api/meta-tasks/"
	PathMetaTaskValues    = "/api/meta-task-values/"
	PathMetaAnnotations   = "/api/meta-annotations/"
)

// ProjectURL is the project lookup by id.
func ProjectURL(projectID int) string {
	return PathProjects + "?" + url.Values{"id": {strconv.Itoa(projectID)}}.Encode()
}

// DocumentsURL is the first page of a dataset's documents.
func DocumentsURL(datasetID int) string {
	return PathDocuments + "?" + url.Values{"dataset": {strconv.Itoa(datasetID)}}.Encode()
}

// AnnotatedEntitiesURL lists the annotated entities of a project document.
func AnnotatedEntitiesURL(projectID, documentID int) string {
	q := url.Values{
		"project":  {strconv.Itoa(projectID)},
		"document": {strconv.Itoa(documentID)},
	}
	return PathAnnotatedEntities + "?" + q.Encode()
}

// EntityURL resolves an entity reference to its CUI label.
func EntityURL(entityRefID int) string {
	return fmt.Sprintf("%s%d/", PathEntities, entityRefID)
}

// ConceptURL looks up a concept by CUI.
func ConceptURL(cui string) string {
	return PathConcepts + "?" + url.Values{"cui": {cui}}.Encode()
}

// ICDCodesURL and OPCSCodesURL list codes by id.
func ICDCodesURL(ids []int) string  { return PathICDCodes + "?id__in=" + joinIDs(ids) }
func OPCSCodesURL(ids []int) string { return PathOPCSCodes + "?id__in=" + joinIDs(ids) }

// MetaAnnotationsURL lists saved meta-annotations of an entity.
func MetaAnnotationsURL(entityID int) string {
	return PathMetaAnnotations + "?" + url.Values{"annotated_entity": {strconv.Itoa(entityID)}}.Encode()
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// MetaAnnotationURL addresses one saved meta-annotation.
func MetaAnnotationURL(id int) string {
	return fmt.Sprintf("%s%d/", PathMetaAnnotations, id)
}
